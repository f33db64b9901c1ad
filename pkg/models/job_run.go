package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobRun is the persisted history record of one job the panel started or adopted.
type JobRun struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	Kind       JobKind         `db:"kind"        json:"kind"`
	Status     JobStatus       `db:"status"      json:"status"`
	Athlete    string          `db:"athlete"     json:"athlete,omitempty"`
	Params     json.RawMessage `db:"params"      json:"params,omitempty"`
	Recovered  bool            `db:"recovered"   json:"recovered"`
	Progress   int             `db:"progress"    json:"progress"`
	Counters   Counters        `db:"counters"    json:"counters"`
	Error      *string         `db:"error"       json:"error,omitempty"`
	StartedAt  time.Time       `db:"started_at"  json:"started_at"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// ReviewDecision records how an operator resolved a review batch.
type ReviewDecision struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	JobRunID    uuid.UUID `db:"job_run_id"   json:"job_run_id"`
	Athlete     string    `db:"athlete"      json:"athlete"`
	Offered     int       `db:"offered"      json:"offered"`
	SelectedIDs []string  `db:"selected_ids" json:"selected_ids"`
	Saved       int       `db:"saved"        json:"saved"`
	Total       int       `db:"n_total"      json:"n_total"`
	Discarded   bool      `db:"discarded"    json:"discarded"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

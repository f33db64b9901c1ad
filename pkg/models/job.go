// Package models contains the job, review and roster types shared across the panel.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind names a family of asynchronous backend work. At most one job of a
// given kind may be active per backend process.
type JobKind string

const (
	KindAnalysis JobKind = "analysis"
	KindCapture  JobKind = "capture"
	KindScript   JobKind = "script"
)

// Kinds lists every job kind in a stable order.
var Kinds = []JobKind{KindAnalysis, KindCapture, KindScript}

// ParseJobKind validates a kind taken from a URL or request body.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindAnalysis, KindCapture, KindScript:
		return k, nil
	case "background-script":
		return KindScript, nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// JobStatus is the coordinator's view of a job's lifecycle.
type JobStatus string

const (
	JobStatusIdle           JobStatus = "idle"
	JobStatusStarting       JobStatus = "starting"
	JobStatusRunning        JobStatus = "running"
	JobStatusAwaitingReview JobStatus = "awaiting-review"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
)

// statusAliases maps the vocabulary spoken by the ReID backend onto JobStatus.
var statusAliases = map[string]JobStatus{
	"":                   JobStatusIdle,
	"idle":               JobStatusIdle,
	"starting":           JobStatusStarting,
	"iniciando":          JobStatusStarting,
	"pending":            JobStatusStarting,
	"running":            JobStatusRunning,
	"rodando":            JobStatusRunning,
	"awaiting-review":    JobStatusAwaitingReview,
	"awaiting_review":    JobStatusAwaitingReview,
	"aguardando_revisao": JobStatusAwaitingReview,
	"completed":          JobStatusCompleted,
	"concluido":          JobStatusCompleted,
	"failed":             JobStatusFailed,
	"erro":               JobStatusFailed,
	"error":              JobStatusFailed,
}

// ParseJobStatus decodes a backend status string. Unknown values map to idle
// so a backend that has forgotten a job never blocks the panel.
func ParseJobStatus(s string) JobStatus {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return JobStatusIdle
}

// Active reports whether the status holds the per-kind exclusivity slot.
func (s JobStatus) Active() bool {
	return s == JobStatusStarting || s == JobStatusRunning || s == JobStatusAwaitingReview
}

// Polling reports whether a status is one the poller keeps watching.
func (s JobStatus) Polling() bool {
	return s == JobStatusStarting || s == JobStatusRunning
}

// Terminal reports whether the poller stops on this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusAwaitingReview
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusIdle:           {JobStatusStarting},
	JobStatusStarting:       {JobStatusRunning, JobStatusFailed, JobStatusIdle, JobStatusCompleted, JobStatusAwaitingReview},
	JobStatusRunning:        {JobStatusCompleted, JobStatusFailed, JobStatusAwaitingReview, JobStatusIdle},
	JobStatusAwaitingReview: {JobStatusCompleted, JobStatusIdle},
	JobStatusCompleted:      {JobStatusStarting, JobStatusIdle},
	JobStatusFailed:         {JobStatusStarting, JobStatusIdle},
}

// CanTransition reports whether from -> to is a legal job status change.
// Staying in the same status is always allowed.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobHandle identifies a job the panel started. The backend has no job ids of
// its own, so the ID is minted locally and used for history records.
type JobHandle struct {
	ID        uuid.UUID `json:"id"`
	Kind      JobKind   `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

// Counters carries the kind-specific numbers a backend reports while a job runs.
type Counters struct {
	Frame       int `json:"frame,omitempty"`
	TotalFrames int `json:"total_frames,omitempty"`
	Matches     int `json:"matches,omitempty"`
	Detections  int `json:"detections,omitempty"`
	Saved       int `json:"saved,omitempty"`
	Evaluated   int `json:"evaluated,omitempty"`
	CurrentTS   int `json:"current_ts,omitempty"`
	Duration    int `json:"duration,omitempty"`
	ImagesNew   int `json:"images_new,omitempty"`
	ImagesTotal int `json:"images_total,omitempty"`
	Total       int `json:"n_total,omitempty"`
}

// JobSnapshot is one decoded answer of get-job-status.
type JobSnapshot struct {
	Kind       JobKind           `json:"kind"`
	Status     JobStatus         `json:"status"`
	Progress   int               `json:"progress"`
	Phase      string            `json:"phase,omitempty"`
	Athlete    string            `json:"athlete,omitempty"`
	PID        int               `json:"pid,omitempty"`
	Counters   Counters          `json:"counters"`
	Result     *ResultRefs       `json:"result,omitempty"`
	Candidates []ReviewCandidate `json:"candidates,omitempty"`
	Log        []string          `json:"log,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ClampProgress bounds a reported percentage to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

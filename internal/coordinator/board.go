package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/tercanobre/reidpanel/pkg/models"
)

// Controls is the enabled state of every operator control of one job kind.
type Controls struct {
	Submit  bool `json:"submit"`
	Cancel  bool `json:"cancel"`
	Confirm bool `json:"confirm"`
	Discard bool `json:"discard"`
	Filter  bool `json:"filter"`
}

// DeriveControls computes control state from the job state machine alone.
func DeriveControls(status models.JobStatus, submitting, committing bool) Controls {
	if submitting {
		return Controls{}
	}
	switch status {
	case models.JobStatusStarting, models.JobStatusRunning:
		return Controls{Cancel: true}
	case models.JobStatusAwaitingReview:
		return Controls{
			Submit:  !committing,
			Confirm: !committing,
			Discard: !committing,
			Filter:  !committing,
		}
	}
	return Controls{Submit: true}
}

// View is the rendered state of one job kind.
type View struct {
	Kind       models.JobKind         `json:"kind"`
	Status     models.JobStatus       `json:"status"`
	JobID      *uuid.UUID             `json:"job_id,omitempty"`
	Athlete    string                 `json:"athlete,omitempty"`
	Progress   int                    `json:"progress"`
	Phase      string                 `json:"phase,omitempty"`
	Counters   models.Counters        `json:"counters"`
	Controls   Controls               `json:"controls"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	Review     *ReviewSummary         `json:"review,omitempty"`
	Log        []string               `json:"log,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Warning    string                 `json:"warning,omitempty"`
	HasPreview bool                   `json:"has_preview"`
	Polling    bool                   `json:"polling"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (c *Coordinator) viewLocked(js *jobState) View {
	committing := false
	var review *ReviewSummary
	if js.review != nil {
		review = js.review.Summary()
		committing = review.Committing
	}
	v := View{
		Kind:       js.kind,
		Status:     js.status,
		Athlete:    js.athlete,
		Progress:   js.progress,
		Phase:      js.phase,
		Counters:   js.counters,
		Controls:   DeriveControls(js.status, js.submitting, committing),
		Result:     js.result,
		Review:     review,
		Log:        js.log,
		Message:    js.message,
		Warning:    js.warning,
		HasPreview: js.preview != nil,
		Polling:    js.session != nil && js.session.Active(),
		UpdatedAt:  js.updatedAt,
	}
	if js.handle != nil {
		id := js.handle.ID
		started := js.handle.StartedAt
		v.JobID = &id
		v.StartedAt = &started
	}
	return v
}

// View returns the current rendered state of kind.
func (c *Coordinator) View(kind models.JobKind) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(c.stateLocked(kind))
}

// Views returns every kind's rendered state in a stable order.
func (c *Coordinator) Views() []View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]View, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		out = append(out, c.viewLocked(c.stateLocked(k)))
	}
	return out
}

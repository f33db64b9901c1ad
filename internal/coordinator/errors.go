package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tercanobre/reidpanel/pkg/models"
)

var (
	ErrNoReview       = errors.New("no review batch is open")
	ErrReviewInFlight = errors.New("review decision already in flight")
	ErrReviewClosed   = errors.New("review batch already resolved")
	ErrUnknownID      = errors.New("unknown candidate id")
	ErrClosed         = errors.New("coordinator closed")
)

// ValidationError is a local precondition failure. It never reaches the network.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// ConflictError reports that a job of the same kind is already active.
// CanCancel is set when cancelling the active job is the way out.
type ConflictError struct {
	Kind      models.JobKind
	Status    models.JobStatus
	CanCancel bool
	Reason    string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s job already active: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s job already active (%s)", e.Kind, e.Status)
}

// TransportError wraps a failure to reach the backend.
type TransportError struct {
	Kind models.JobKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a start request the backend refused for a reason other
// than a conflict, such as a missing video.
type RejectedError struct {
	Kind    models.JobKind
	Message string
	Err     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s start rejected: %s", e.Kind, e.Message)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// JobFailure is a terminal failed status. Message is the backend's text verbatim.
type JobFailure struct {
	Kind    models.JobKind
	Message string
}

func (e *JobFailure) Error() string {
	return e.Message
}

// ArtifactRaceError marks a completed job whose artifact never appeared.
// It is surfaced as a warning, not a failure.
type ArtifactRaceError struct {
	Kind     models.JobKind
	Artifact string
}

func (e *ArtifactRaceError) Error() string {
	return fmt.Sprintf("%s finished but its %s is not available yet; refresh later", e.Kind, e.Artifact)
}

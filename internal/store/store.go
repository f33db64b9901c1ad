package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tercanobre/reidpanel/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJobRun(ctx context.Context, run *models.JobRun) error
	GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error)
	ListJobRuns(ctx context.Context, filter JobRunFilter) ([]*models.JobRun, error)
	UpdateJobRun(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobRunOption) error

	RecordReviewDecision(ctx context.Context, d *models.ReviewDecision) error
	ListReviewDecisions(ctx context.Context, jobRunID uuid.UUID) ([]*models.ReviewDecision, error)
}

type JobRunFilter struct {
	Kind  models.JobKind
	Since time.Time
	Limit int
}

type jobRunUpdateParams struct {
	ErrorMessage *string
	Progress     *int
	Counters     *models.Counters
}

type JobRunOption func(*jobRunUpdateParams)

func WithErrorMessage(msg string) JobRunOption {
	return func(p *jobRunUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithProgress(progress int) JobRunOption {
	return func(p *jobRunUpdateParams) {
		p.Progress = &progress
	}
}

func WithCounters(c models.Counters) JobRunOption {
	return func(p *jobRunUpdateParams) {
		p.Counters = &c
	}
}

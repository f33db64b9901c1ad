package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tercanobre/reidpanel/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Job runs ---

const jobRunColumns = `id, kind, status, athlete, params, recovered, progress, counters, error_message, started_at, finished_at`

func scanJobRun(row pgx.Row) (*models.JobRun, error) {
	var r models.JobRun
	err := row.Scan(&r.ID, &r.Kind, &r.Status, &r.Athlete, &r.Params, &r.Recovered,
		&r.Progress, &r.Counters, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateJobRun(ctx context.Context, run *models.JobRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.JobStatusStarting
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, kind, status, athlete, params, recovered, progress, counters, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Kind, run.Status, run.Athlete, run.Params, run.Recovered, run.Progress, run.Counters, run.StartedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	r, err := scanJobRun(s.pool.QueryRow(ctx,
		`SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, filter JobRunFilter) ([]*models.JobRun, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + jobRunColumns + ` FROM job_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.JobRun{}
	for rows.Next() {
		r, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) UpdateJobRun(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobRunOption) error {
	params := &jobRunUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var current models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM job_runs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job run status: %w", err)
	}

	if !models.CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	query := `UPDATE job_runs SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusCompleted || status == models.JobStatusFailed || status == models.JobStatusIdle {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, time.Now().UTC())
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Progress != nil {
		query += fmt.Sprintf(", progress = GREATEST(progress, $%d)", argIdx)
		args = append(args, *params.Progress)
		argIdx++
	}
	if params.Counters != nil {
		query += fmt.Sprintf(", counters = $%d", argIdx)
		args = append(args, *params.Counters)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}
	return nil
}

// --- Review decisions ---

func (s *PostgresStore) RecordReviewDecision(ctx context.Context, d *models.ReviewDecision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.SelectedIDs == nil {
		d.SelectedIDs = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_decisions (id, job_run_id, athlete, offered, selected_ids, saved, n_total, discarded, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.JobRunID, d.Athlete, d.Offered, d.SelectedIDs, d.Saved, d.Total, d.Discarded, d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("record review decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewDecisions(ctx context.Context, jobRunID uuid.UUID) ([]*models.ReviewDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_run_id, athlete, offered, selected_ids, saved, n_total, discarded, created_at
		 FROM review_decisions WHERE job_run_id = $1 ORDER BY created_at`, jobRunID)
	if err != nil {
		return nil, fmt.Errorf("list review decisions: %w", err)
	}
	defer rows.Close()

	decisions := []*models.ReviewDecision{}
	for rows.Next() {
		var d models.ReviewDecision
		if err := rows.Scan(&d.ID, &d.JobRunID, &d.Athlete, &d.Offered, &d.SelectedIDs,
			&d.Saved, &d.Total, &d.Discarded, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review decision: %w", err)
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

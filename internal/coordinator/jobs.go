package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/cache"
	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Submit validates p, starts the job on the backend and begins polling it.
// Only one job per kind may be active; a second submit while the first is
// being sent or is running returns a *ConflictError without any network call.
func (c *Coordinator) Submit(ctx context.Context, p Params) (*models.JobHandle, error) {
	if err := validateParams(c.validate, p); err != nil {
		return nil, err
	}
	p = withDefaults(p)
	kind := p.Kind()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	js := c.stateLocked(kind)
	if js.submitting || js.status.Active() {
		err := &ConflictError{
			Kind:      kind,
			Status:    js.status,
			CanCancel: js.status.Polling(),
		}
		if js.submitting {
			err.Status = models.JobStatusStarting
			err.Reason = "a start request is already in flight"
		}
		c.mu.Unlock()
		return nil, err
	}
	js.submitting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		js.submitting = false
		c.mu.Unlock()
	}()

	release, err := c.lockSubmit(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.backend.StartJob(ctx, kind, p); err != nil {
		return nil, c.startError(kind, err)
	}

	athlete := athleteOf(p)
	handle := &models.JobHandle{ID: uuid.New(), Kind: kind, StartedAt: c.now()}
	c.recordRun(ctx, handle, athlete, p, false)

	c.mu.Lock()
	js.reset(handle, athlete)
	js.status = models.JobStatusStarting
	js.phase = "starting"
	js.updatedAt = c.now()
	c.startSessionLocked(js)
	c.mu.Unlock()

	c.mirror(kind, models.JobStatusStarting)
	slog.Info("job started", "kind", kind, "job_id", handle.ID, "athlete", athlete)
	return handle, nil
}

// lockSubmit takes the shared submit lock so two panel replicas cannot start
// the same kind at once. Cache failures fail open.
func (c *Coordinator) lockSubmit(ctx context.Context, kind models.JobKind) (func(), error) {
	noop := func() {}
	if c.cache == nil {
		return noop, nil
	}
	key := cache.SubmitLockKey(kind)
	ok, err := c.cache.AcquireLock(ctx, key, c.cfg.SubmitLockTTL)
	if err != nil {
		slog.Warn("submit lock unavailable, continuing without it", "kind", kind, "error", err)
		return noop, nil
	}
	if !ok {
		return nil, &ConflictError{
			Kind:   kind,
			Status: models.JobStatusStarting,
			Reason: "another panel is starting this job",
		}
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.cache.ReleaseLock(rctx, key); err != nil {
			slog.Debug("releasing submit lock failed", "kind", kind, "error", err)
		}
	}, nil
}

func (c *Coordinator) startError(kind models.JobKind, err error) error {
	switch {
	case errors.Is(err, backend.ErrConflict):
		return &ConflictError{
			Kind:      kind,
			Status:    models.JobStatusRunning,
			CanCancel: true,
			Reason:    err.Error(),
		}
	case errors.Is(err, backend.ErrBackendUnreachable), errors.Is(err, backend.ErrBackendTimeout):
		return &TransportError{Kind: kind, Op: "start", Err: err}
	default:
		return &RejectedError{Kind: kind, Message: err.Error(), Err: err}
	}
}

func (c *Coordinator) recordRun(ctx context.Context, handle *models.JobHandle, athlete string, p Params, recovered bool) {
	if c.store == nil {
		return
	}
	var raw json.RawMessage
	if p != nil {
		if b, err := json.Marshal(p); err == nil {
			raw = b
		}
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	err := c.store.CreateJobRun(sctx, &models.JobRun{
		ID:        handle.ID,
		Kind:      handle.Kind,
		Status:    models.JobStatusStarting,
		Athlete:   athlete,
		Params:    raw,
		Recovered: recovered,
		StartedAt: handle.StartedAt,
	})
	if err != nil {
		slog.Warn("recording job run failed", "kind", handle.Kind, "job_id", handle.ID, "error", err)
	}
}

// Cancel asks the backend to stop the kind's job and stops local polling
// whatever the backend answers. A later status check reconciles a cancel the backend
// did not honour.
func (c *Coordinator) Cancel(ctx context.Context, kind models.JobKind) error {
	c.mu.Lock()
	js := c.stateLocked(kind)
	s := js.session
	js.session = nil
	handle := js.handle
	wasPolling := js.status.Polling()
	if wasPolling {
		js.status = models.JobStatusIdle
		js.progress = 0
		js.phase = ""
		js.preview = nil
		js.message = "cancelled"
		js.updatedAt = c.now()
	}
	c.mu.Unlock()

	err := c.backend.CancelJob(ctx, kind)
	if s != nil {
		s.Stop()
	}

	if wasPolling {
		c.mirror(kind, models.JobStatusIdle)
		c.persist(handle, models.JobStatusIdle, store.WithErrorMessage("cancelled by operator"))
		slog.Info("job cancelled", "kind", kind, "job_id", jobID(handle))
	}
	if err != nil {
		slog.Warn("backend cancel failed", "kind", kind, "error", err)
		return &TransportError{Kind: kind, Op: "cancel", Err: err}
	}
	return nil
}

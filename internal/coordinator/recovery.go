package coordinator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Recover checks every job kind once, concurrently, and re-attaches to
// whatever the backend is still doing. It never fails: an unreachable
// backend leaves the kind idle.
func (c *Coordinator) Recover(ctx context.Context) []*models.JobSnapshot {
	found := make([]*models.JobSnapshot, len(models.Kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range models.Kinds {
		g.Go(func() error {
			found[i] = c.Reattach(gctx, kind)
			return nil
		})
	}
	_ = g.Wait()

	out := found[:0]
	for _, snap := range found {
		if snap != nil {
			out = append(out, snap)
		}
	}
	slog.Info("recovery check finished", "active", len(out))
	return out
}

// Reattach makes exactly one status call for kind and routes the answer: a
// running job resumes polling, a review batch opens a review, a completed
// job with results is rendered. It returns nil when there is nothing to
// attach to or when the kind is already being tracked.
func (c *Coordinator) Reattach(ctx context.Context, kind models.JobKind) *models.JobSnapshot {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	snap, err := c.backend.GetJobStatus(pctx, kind)
	cancel()
	if err != nil {
		slog.Warn("recovery status check failed, treating kind as idle", "kind", kind, "error", err)
		return nil
	}
	if snap.Status == models.JobStatusIdle {
		return nil
	}
	if snap.Status == models.JobStatusCompleted && !hasResult(snap) {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	js := c.stateLocked(kind)
	if js.submitting || js.session != nil || js.status.Active() {
		c.mu.Unlock()
		return nil
	}
	handle := &models.JobHandle{ID: uuid.New(), Kind: kind, StartedAt: c.now()}
	js.reset(handle, snap.Athlete)
	js.counters = snap.Counters
	js.log = snap.Log
	js.updatedAt = c.now()

	var missing string
	switch snap.Status {
	case models.JobStatusStarting, models.JobStatusRunning:
		js.status = snap.Status
		js.progress = snap.Progress
		js.phase = PhaseText(kind, snap)
		c.startSessionLocked(js)
	case models.JobStatusAwaitingReview:
		js.status = models.JobStatusAwaitingReview
		js.progress = snap.Progress
		js.phase = "awaiting review"
	case models.JobStatusCompleted:
		missing = c.completeLocked(js, snap)
	case models.JobStatusFailed:
		msg := snap.Error
		if msg == "" {
			msg = "job failed"
		}
		c.failLocked(js, msg)
	}
	status, message := js.status, js.message
	c.mu.Unlock()

	slog.Info("re-attached to backend job", "kind", kind, "status", status, "job_id", handle.ID)
	c.mirror(kind, status)
	c.recordRun(ctx, handle, snap.Athlete, nil, true)
	if status != models.JobStatusStarting {
		opts := []store.JobRunOption{store.WithProgress(snap.Progress), store.WithCounters(snap.Counters)}
		if status == models.JobStatusFailed {
			opts = append(opts, store.WithErrorMessage(message))
		}
		c.persist(handle, status, opts...)
	}

	switch {
	case status == models.JobStatusAwaitingReview:
		c.openReview(kind, handle, snap)
	case missing != "":
		c.scheduleRecheck(kind, handle, missing)
	}
	return snap
}

func hasResult(snap *models.JobSnapshot) bool {
	return snap.Result != nil || snap.Counters != (models.Counters{})
}

package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// openReview builds the review session for a batch. Candidates embedded in
// the status payload are used as is; otherwise the batch is fetched once.
func (c *Coordinator) openReview(kind models.JobKind, handle *models.JobHandle, snap *models.JobSnapshot) {
	candidates, athlete := snap.Candidates, snap.Athlete
	if len(candidates) == 0 {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		batch, err := c.backend.GetReviewBatch(ctx, kind)
		cancel()
		if err != nil {
			slog.Warn("fetching review batch failed", "kind", kind, "error", err)
			c.mu.Lock()
			if js := c.jobs[kind]; js.handle == handle && js.status == models.JobStatusAwaitingReview {
				js.message = "review batch unavailable: " + err.Error()
			}
			c.mu.Unlock()
			return
		}
		candidates = batch.Candidates
		if batch.Athlete != "" {
			athlete = batch.Athlete
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	js := c.jobs[kind]
	if js.handle != handle || js.status != models.JobStatusAwaitingReview {
		return
	}
	if athlete == "" {
		athlete = js.athlete
	}
	js.athlete = athlete
	js.message = ""
	js.review = NewReviewSession(kind, athlete, candidates, func(ctx context.Context, ids []string) (*models.ReviewAck, error) {
		return c.backend.ConfirmReview(ctx, kind, athlete, ids)
	})
	js.updatedAt = c.now()
	slog.Info("review batch opened", "kind", kind, "athlete", athlete, "candidates", len(candidates))
}

// ReloadReview fetches the review batch again when the kind is awaiting
// review but no session could be opened.
func (c *Coordinator) ReloadReview(ctx context.Context, kind models.JobKind) error {
	c.mu.Lock()
	js := c.stateLocked(kind)
	if js.status != models.JobStatusAwaitingReview {
		c.mu.Unlock()
		return ErrNoReview
	}
	if js.review != nil {
		c.mu.Unlock()
		return nil
	}
	handle, athlete := js.handle, js.athlete
	c.mu.Unlock()

	batch, err := c.backend.GetReviewBatch(ctx, kind)
	if err != nil {
		return &TransportError{Kind: kind, Op: "review", Err: err}
	}
	if batch.Athlete == "" {
		batch.Athlete = athlete
	}
	c.openReview(kind, handle, &models.JobSnapshot{
		Kind:       kind,
		Status:     models.JobStatusAwaitingReview,
		Athlete:    batch.Athlete,
		Candidates: batch.Candidates,
	})
	if c.reviewSession(kind) == nil {
		return ErrNoReview
	}
	return nil
}

func (c *Coordinator) reviewSession(kind models.JobKind) *ReviewSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(kind).review
}

// Review returns the open review batch of kind.
func (c *Coordinator) Review(kind models.JobKind) (ReviewView, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return ReviewView{}, ErrNoReview
	}
	return rs.View(), nil
}

// SetReviewFilter changes which candidates are visible. Selection is untouched.
func (c *Coordinator) SetReviewFilter(kind models.JobKind, f ReviewFilter) (ReviewView, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return ReviewView{}, ErrNoReview
	}
	if f.MinScore < 0 || f.MinScore > 1 {
		return ReviewView{}, &ValidationError{Fields: map[string]string{"min_score": "must be between 0 and 1"}}
	}
	rs.SetFilter(f)
	return rs.View(), nil
}

// ToggleCandidate flips one candidate's selection.
func (c *Coordinator) ToggleCandidate(kind models.JobKind, id string) (ReviewView, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return ReviewView{}, ErrNoReview
	}
	if _, err := rs.Toggle(id); err != nil {
		return ReviewView{}, err
	}
	return rs.View(), nil
}

// SelectVisible selects or deselects every visible candidate.
func (c *Coordinator) SelectVisible(kind models.JobKind, selected bool) (ReviewView, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return ReviewView{}, ErrNoReview
	}
	if _, err := rs.SetVisible(selected); err != nil {
		return ReviewView{}, err
	}
	return rs.View(), nil
}

// ConfirmReview sends every selected candidate id, hidden ones included.
// An empty selection is equivalent to DiscardReview.
func (c *Coordinator) ConfirmReview(ctx context.Context, kind models.JobKind) (*models.ReviewAck, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return nil, ErrNoReview
	}
	offered := rs.View().Total
	ack, err := rs.Confirm(ctx)
	return c.resolveReview(kind, rs, offered, ack, err, false)
}

// DiscardReview rejects the whole batch.
func (c *Coordinator) DiscardReview(ctx context.Context, kind models.JobKind) (*models.ReviewAck, error) {
	rs := c.reviewSession(kind)
	if rs == nil {
		return nil, ErrNoReview
	}
	offered := rs.View().Total
	ack, err := rs.Discard(ctx)
	return c.resolveReview(kind, rs, offered, ack, err, true)
}

func (c *Coordinator) resolveReview(kind models.JobKind, rs *ReviewSession, offered int, ack *models.ReviewAck, err error, discard bool) (*models.ReviewAck, error) {
	if err != nil {
		if errors.Is(err, ErrReviewInFlight) || errors.Is(err, ErrReviewClosed) {
			return nil, err
		}
		c.mu.Lock()
		if js := c.jobs[kind]; js.review == rs {
			js.message = "review decision failed: " + err.Error()
			js.updatedAt = c.now()
		}
		c.mu.Unlock()
		return nil, &TransportError{Kind: kind, Op: "confirm review", Err: err}
	}

	if ack == nil {
		ack = &models.ReviewAck{Success: true}
	}
	ids := rs.Committed()
	discarded := discard || len(ids) == 0

	c.mu.Lock()
	js := c.jobs[kind]
	if js.review != rs {
		c.mu.Unlock()
		return ack, nil
	}
	js.review = nil
	js.updatedAt = c.now()
	if discarded {
		js.status = models.JobStatusIdle
		js.progress = 0
		js.phase = ""
		js.result = nil
		js.message = "review discarded"
	} else {
		js.status = models.JobStatusCompleted
		js.progress = 100
		js.phase = "completed"
		js.counters.Saved = ack.Saved
		js.counters.Total = ack.Total
		js.result = &models.AnalysisResult{Saved: ack.Saved, Total: ack.Total}
		js.message = printer.Sprintf("%d references saved, %d total", ack.Saved, ack.Total)
	}
	status, handle, counters, athlete := js.status, js.handle, js.counters, js.athlete
	c.mu.Unlock()

	slog.Info("review resolved", "kind", kind, "athlete", athlete,
		"offered", offered, "selected", len(ids), "saved", ack.Saved, "n_total", ack.Total)
	c.mirror(kind, status)
	c.persist(handle, status, store.WithCounters(counters))
	c.recordDecision(handle, &models.ReviewDecision{
		Athlete:     athlete,
		Offered:     offered,
		SelectedIDs: ids,
		Saved:       ack.Saved,
		Total:       ack.Total,
		Discarded:   discarded,
	})
	return ack, nil
}

func (c *Coordinator) recordDecision(handle *models.JobHandle, d *models.ReviewDecision) {
	if c.store == nil || handle == nil {
		return
	}
	d.JobRunID = handle.ID
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.RecordReviewDecision(ctx, d); err != nil {
		slog.Warn("recording review decision failed", "job_id", handle.ID, "error", err)
	}
}

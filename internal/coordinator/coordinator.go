package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/cache"
	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

const storeTimeout = 5 * time.Second

// Config holds the coordinator's timing knobs.
type Config struct {
	Intervals            map[models.JobKind]time.Duration
	PreviewInterval      time.Duration
	ArtifactRecheckDelay time.Duration
	RequestTimeout       time.Duration
	SubmitLockTTL        time.Duration
	StatusTTL            time.Duration
	IdleGrace            int
}

// DefaultConfig returns the cadences the backend was tuned for.
func DefaultConfig() Config {
	return Config{
		Intervals: map[models.JobKind]time.Duration{
			models.KindAnalysis: time.Second,
			models.KindCapture:  1500 * time.Millisecond,
			models.KindScript:   3 * time.Second,
		},
		PreviewInterval:      800 * time.Millisecond,
		ArtifactRecheckDelay: 2 * time.Second,
		RequestTimeout:       10 * time.Second,
		SubmitLockTTL:        2 * time.Minute,
		StatusTTL:            30 * time.Minute,
		IdleGrace:            defaultIdleGrace,
	}
}

func (cfg Config) interval(kind models.JobKind) time.Duration {
	if d, ok := cfg.Intervals[kind]; ok && d > 0 {
		return d
	}
	return time.Second
}

// jobState is everything the panel knows about one job kind.
type jobState struct {
	kind       models.JobKind
	status     models.JobStatus
	handle     *models.JobHandle
	athlete    string
	submitting bool

	session *PollSession
	review  *ReviewSession

	progress  int
	phase     string
	counters  models.Counters
	log       []string
	result    *models.AnalysisResult
	failure   *JobFailure
	message   string
	warning   string
	preview   *backend.Artifact
	updatedAt time.Time
}

// reset clears the per-run fields for a new handle.
func (js *jobState) reset(handle *models.JobHandle, athlete string) {
	js.handle = handle
	js.athlete = athlete
	js.progress = 0
	js.phase = ""
	js.counters = models.Counters{}
	js.log = nil
	js.result = nil
	js.failure = nil
	js.message = ""
	js.warning = ""
	js.preview = nil
	js.review = nil
}

// Coordinator drives asynchronous backend jobs: one state machine and at most
// one PollSession per job kind. Kinds are independent of each other.
type Coordinator struct {
	backend  backend.Client
	store    store.Store
	cache    cache.Cache
	cfg      Config
	validate *validator.Validate
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[models.JobKind]*jobState
	closed bool
}

// New creates a Coordinator. st and ca may be nil, which disables run
// history and the cross-replica submit lock.
func New(client backend.Client, st store.Store, ca cache.Cache, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.Intervals == nil {
		cfg.Intervals = def.Intervals
	}
	if cfg.PreviewInterval <= 0 {
		cfg.PreviewInterval = def.PreviewInterval
	}
	if cfg.ArtifactRecheckDelay <= 0 {
		cfg.ArtifactRecheckDelay = def.ArtifactRecheckDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.SubmitLockTTL <= 0 {
		cfg.SubmitLockTTL = def.SubmitLockTTL
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = def.StatusTTL
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = def.IdleGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		backend:  client,
		store:    st,
		cache:    ca,
		cfg:      cfg,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[models.JobKind]*jobState, len(models.Kinds)),
	}
	for _, k := range models.Kinds {
		c.jobs[k] = &jobState{kind: k, status: models.JobStatusIdle, updatedAt: c.now()}
	}
	return c
}

// Close stops every poll session and waits for background work to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var sessions []*PollSession
	for _, js := range c.jobs {
		if js.session != nil {
			sessions = append(sessions, js.session)
			js.session = nil
		}
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	c.cancel()
	for _, s := range sessions {
		<-s.Done()
	}
	c.wg.Wait()
}

func (c *Coordinator) stateLocked(kind models.JobKind) *jobState {
	js, ok := c.jobs[kind]
	if !ok {
		js = &jobState{kind: kind, status: models.JobStatusIdle, updatedAt: c.now()}
		c.jobs[kind] = js
	}
	return js
}

// startSessionLocked replaces the kind's poll session. Any previous session
// is stopped first so a kind never has two tickers.
func (c *Coordinator) startSessionLocked(js *jobState) {
	if js.session != nil {
		js.session.Stop()
	}
	var preview PreviewFunc
	if js.kind == models.KindAnalysis {
		preview = c.backend.GetPreview
	}
	s := NewPollSession(js.kind, SessionConfig{
		Interval:        c.cfg.interval(js.kind),
		RequestTimeout:  c.cfg.RequestTimeout,
		PreviewInterval: c.cfg.PreviewInterval,
		IdleGrace:       c.cfg.IdleGrace,
	}, c.backend.GetJobStatus, preview, SessionHooks{
		OnProgress: c.onProgress,
		OnTerminal: c.onTerminal,
		OnPreview:  c.onPreview,
	})
	js.session = s
	s.Start(c.ctx)
}

func (c *Coordinator) onProgress(s *PollSession, snap *models.JobSnapshot) {
	c.mu.Lock()
	js := c.jobs[s.Kind()]
	if js == nil || js.session != s {
		c.mu.Unlock()
		return
	}
	prev := js.status
	if models.CanTransition(js.status, snap.Status) {
		js.status = snap.Status
	}
	js.progress = snap.Progress
	js.phase = PhaseText(js.kind, snap)
	js.counters = snap.Counters
	if len(snap.Log) > 0 {
		js.log = snap.Log
	}
	if js.athlete == "" {
		js.athlete = snap.Athlete
	}
	js.updatedAt = c.now()
	status, handle := js.status, js.handle
	c.mu.Unlock()

	if status != prev {
		c.mirror(s.Kind(), status)
		c.persist(handle, status, store.WithProgress(snap.Progress))
	}
}

func (c *Coordinator) onPreview(s *PollSession, frame *backend.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	js := c.jobs[s.Kind()]
	if js == nil || js.session != s {
		return
	}
	js.preview = frame
}

func (c *Coordinator) onTerminal(s *PollSession, snap *models.JobSnapshot, err error) {
	kind := s.Kind()

	c.mu.Lock()
	js := c.jobs[kind]
	if js == nil || js.session != s {
		c.mu.Unlock()
		return
	}
	js.session = nil
	js.preview = nil
	js.updatedAt = c.now()
	if err == nil {
		js.counters = snap.Counters
		if len(snap.Log) > 0 {
			js.log = snap.Log
		}
	}
	js.progress = snap.Progress

	var missing string
	switch {
	case err != nil || snap.Status == models.JobStatusFailed:
		msg := snap.Error
		if msg == "" {
			msg = "job failed"
		}
		c.failLocked(js, msg)
	case snap.Status == models.JobStatusCompleted:
		missing = c.completeLocked(js, snap)
	case snap.Status == models.JobStatusAwaitingReview:
		js.status = models.JobStatusAwaitingReview
		js.phase = "awaiting review"
	default:
		js.status = models.JobStatusIdle
		js.phase = ""
		js.message = "the backend no longer reports this job"
	}
	status, handle, counters, message := js.status, js.handle, js.counters, js.message
	c.mu.Unlock()

	slog.Info("job reached terminal status", "kind", kind, "status", status, "job_id", jobID(handle))
	c.mirror(kind, status)

	opts := []store.JobRunOption{store.WithProgress(snap.Progress), store.WithCounters(counters)}
	if status == models.JobStatusFailed || status == models.JobStatusIdle {
		opts = append(opts, store.WithErrorMessage(message))
	}
	c.persist(handle, status, opts...)

	switch {
	case status == models.JobStatusAwaitingReview:
		c.openReview(kind, handle, snap)
	case missing != "":
		c.scheduleRecheck(kind, handle, missing)
	}
}

// failLocked surfaces the backend's failure text verbatim.
func (c *Coordinator) failLocked(js *jobState, msg string) {
	js.status = models.JobStatusFailed
	js.phase = ""
	js.failure = &JobFailure{Kind: js.kind, Message: msg}
	js.message = js.failure.Error()
}

// completeLocked renders the result and returns the name of an expected
// artifact the payload lacks.
func (c *Coordinator) completeLocked(js *jobState, snap *models.JobSnapshot) string {
	js.status = models.JobStatusCompleted
	js.phase = "completed"
	js.progress = 100
	js.result = RenderResult(snap)
	js.warning = ""
	return missingArtifact(js.kind, snap)
}

// scheduleRecheck re-fetches status exactly once after a short delay to pick
// up an artifact the backend had not finished writing.
func (c *Coordinator) scheduleRecheck(kind models.JobKind, handle *models.JobHandle, artifact string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(c.cfg.ArtifactRecheckDelay)
		defer timer.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		snap, err := c.backend.GetJobStatus(ctx, kind)
		cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		js := c.jobs[kind]
		if js.handle != handle || js.status != models.JobStatusCompleted {
			return
		}
		js.updatedAt = c.now()
		if err == nil && snap.Status == models.JobStatusCompleted && missingArtifact(kind, snap) == "" {
			js.result = RenderResult(snap)
			js.warning = ""
			return
		}
		js.warning = (&ArtifactRaceError{Kind: kind, Artifact: artifact}).Error()
		slog.Warn("artifact still missing after recheck", "kind", kind, "artifact", artifact, "job_id", jobID(handle))
	}()
}

// Preview returns the latest annotated frame of a running analysis.
func (c *Coordinator) Preview(kind models.JobKind) (*backend.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	js := c.stateLocked(kind)
	if js.preview == nil {
		return nil, false
	}
	return js.preview, true
}

// mirror publishes the kind's status to the shared cache for other replicas.
func (c *Coordinator) mirror(kind models.JobKind, status models.JobStatus) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.cache.SetJobStatus(ctx, kind, status, c.cfg.StatusTTL); err != nil {
		slog.Debug("mirroring job status failed", "kind", kind, "error", err)
	}
}

// persist records a status change in the run history. Failures are logged
// and never affect the job.
func (c *Coordinator) persist(handle *models.JobHandle, status models.JobStatus, opts ...store.JobRunOption) {
	if c.store == nil || handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.UpdateJobRun(ctx, handle.ID, status, opts...); err != nil {
		slog.Warn("recording job run status failed",
			"kind", handle.Kind, "job_id", handle.ID, "status", status, "error", err)
	}
}

func jobID(h *models.JobHandle) string {
	if h == nil {
		return ""
	}
	return h.ID.String()
}

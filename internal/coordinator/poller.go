package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// defaultIdleGrace is how many consecutive idle answers end a session. A
// freshly started job may not be visible on the first poll.
const defaultIdleGrace = 3

// StatusFunc fetches one status snapshot for a kind.
type StatusFunc func(ctx context.Context, kind models.JobKind) (*models.JobSnapshot, error)

// PreviewFunc fetches the latest annotated frame of a running job.
type PreviewFunc func(ctx context.Context, kind models.JobKind) (*backend.Artifact, error)

// SessionHooks receive the output of a PollSession. OnProgress runs for every
// non-terminal answer. OnTerminal runs at most once per session.
type SessionHooks struct {
	OnProgress func(s *PollSession, snap *models.JobSnapshot)
	OnTerminal func(s *PollSession, snap *models.JobSnapshot, err error)
	OnPreview  func(s *PollSession, frame *backend.Artifact)
}

// SessionConfig controls one PollSession.
type SessionConfig struct {
	Interval        time.Duration
	RequestTimeout  time.Duration
	PreviewInterval time.Duration
	IdleGrace       int
}

// PollSession owns the status polling of one job kind. It holds the only
// ticker for its kind; the coordinator stops any previous session before
// starting a new one.
type PollSession struct {
	kind    models.JobKind
	cfg     SessionConfig
	status  StatusFunc
	preview PreviewFunc
	hooks   SessionHooks

	cancel context.CancelFunc
	done   chan struct{}

	startOnce    sync.Once
	stopOnce     sync.Once
	terminalOnce sync.Once

	mu        sync.Mutex
	active    bool
	stopped   bool
	progress  int
	idleCount int
	polls     int
}

// NewPollSession creates a session. preview may be nil.
func NewPollSession(kind models.JobKind, cfg SessionConfig, status StatusFunc, preview PreviewFunc, hooks SessionHooks) *PollSession {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.RequestTimeout <= 0 || cfg.RequestTimeout > cfg.Interval*4 {
		cfg.RequestTimeout = cfg.Interval * 4
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = defaultIdleGrace
	}
	return &PollSession{
		kind:    kind,
		cfg:     cfg,
		status:  status,
		preview: preview,
		hooks:   hooks,
		done:    make(chan struct{}),
	}
}

// Start launches the poll loop. Calling Start more than once has no effect.
func (s *PollSession) Start(parent context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(parent)
		s.cancel = cancel
		s.active = true
		s.mu.Unlock()

		go s.run(ctx)
		if s.preview != nil && s.cfg.PreviewInterval > 0 {
			go s.runPreview(ctx)
		}
	})
}

// Stop ends polling. It is safe to call any number of times, before or after
// the session reached a terminal status, and never runs terminal handling.
func (s *PollSession) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		} else {
			close(s.done)
		}
	})
}

// Done is closed once the poll loop has exited.
func (s *PollSession) Done() <-chan struct{} { return s.done }

// Active reports whether the session is still polling.
func (s *PollSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Kind returns the job kind this session polls.
func (s *PollSession) Kind() models.JobKind { return s.kind }

// Progress returns the highest progress observed by this session.
func (s *PollSession) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Polls returns how many status requests completed.
func (s *PollSession) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *PollSession) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one poll and reports whether the session is finished.
func (s *PollSession) tick(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	snap, err := s.status(reqCtx, s.kind)
	cancel()

	if ctx.Err() != nil {
		return true
	}

	s.mu.Lock()
	s.polls++
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, backend.ErrMalformedPayload) {
			failed := &models.JobSnapshot{Kind: s.kind, Status: models.JobStatusFailed, Error: err.Error()}
			if snap != nil {
				failed.Progress = snap.Progress
			}
			s.finish(s.monotonic(failed), err)
			return true
		}
		slog.Debug("poll failed, retrying next tick", "kind", s.kind, "error", err)
		return false
	}
	if snap == nil {
		return false
	}

	snap = s.monotonic(snap)

	switch {
	case snap.Status.Terminal():
		s.finish(snap, nil)
		return true
	case snap.Status == models.JobStatusIdle:
		s.mu.Lock()
		s.idleCount++
		gone := s.idleCount >= s.cfg.IdleGrace
		s.mu.Unlock()
		if gone {
			s.finish(snap, nil)
			return true
		}
		return false
	}

	s.mu.Lock()
	s.idleCount = 0
	s.mu.Unlock()
	if s.hooks.OnProgress != nil {
		s.hooks.OnProgress(s, snap)
	}
	return false
}

// monotonic never lets the published progress fall below what this session
// already showed.
func (s *PollSession) monotonic(snap *models.JobSnapshot) *models.JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Progress < s.progress {
		cp := *snap
		cp.Progress = s.progress
		return &cp
	}
	s.progress = snap.Progress
	return snap
}

func (s *PollSession) finish(snap *models.JobSnapshot, err error) {
	s.terminalOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		if s.hooks.OnTerminal != nil {
			s.hooks.OnTerminal(s, snap, err)
		}
		s.Stop()
	})
}

// runPreview fetches annotated frames while 0 < progress < 100. Failures are
// ignored; the preview never affects job state.
func (s *PollSession) runPreview(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := s.Progress()
			if p <= 0 || p >= 100 {
				continue
			}
			reqCtx, cancel := context.WithTimeout(ctx, s.cfg.PreviewInterval)
			frame, err := s.preview(reqCtx, s.kind)
			cancel()
			if err != nil || frame == nil || ctx.Err() != nil {
				continue
			}
			if s.hooks.OnPreview != nil {
				s.hooks.OnPreview(s, frame)
			}
		}
	}
}

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/backend/mock"
	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*models.JobRun
	updates   []runUpdate
	decisions []*models.ReviewDecision
}

type runUpdate struct {
	ID     uuid.UUID
	Status models.JobStatus
}

func newMockStore() *mockStore {
	return &mockStore{runs: make(map[uuid.UUID]*models.JobRun)}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJobRun(_ context.Context, run *models.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *mockStore) GetJobRun(_ context.Context, id uuid.UUID) (*models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *mockStore) ListJobRuns(_ context.Context, _ store.JobRunFilter) ([]*models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.JobRun, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *mockStore) UpdateJobRun(_ context.Context, id uuid.UUID, status models.JobStatus, _ ...store.JobRunOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !models.CanTransition(r.Status, status) {
		return store.ErrInvalidTransition
	}
	r.Status = status
	s.updates = append(s.updates, runUpdate{ID: id, Status: status})
	return nil
}

func (s *mockStore) RecordReviewDecision(_ context.Context, d *models.ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *mockStore) ListReviewDecisions(_ context.Context, id uuid.UUID) ([]*models.ReviewDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReviewDecision
	for _, d := range s.decisions {
		if d.JobRunID == id {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *mockStore) runStatus(id uuid.UUID) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return r.Status
	}
	return ""
}

func (s *mockStore) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

type mockCache struct {
	mu       sync.Mutex
	statuses map[models.JobKind]models.JobStatus
	locks    map[string]bool
	lockErr  error
}

func newMockCache() *mockCache {
	return &mockCache{
		statuses: make(map[models.JobKind]models.JobStatus),
		locks:    make(map[string]bool),
	}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)          { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                        { return nil }
func (c *mockCache) Ping(_ context.Context) error                                    { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, kind models.JobKind, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[kind] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, kind models.JobKind) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[kind]
	return s, ok, nil
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockErr != nil {
		return false, c.lockErr
	}
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *mockCache) ReleaseLock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *mockCache) status(kind models.JobKind) models.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[kind]
}

// --- helpers ---

func testConfig() Config {
	return Config{
		Intervals: map[models.JobKind]time.Duration{
			models.KindAnalysis: 10 * time.Millisecond,
			models.KindCapture:  10 * time.Millisecond,
			models.KindScript:   10 * time.Millisecond,
		},
		PreviewInterval:      5 * time.Millisecond,
		ArtifactRecheckDelay: 20 * time.Millisecond,
		RequestTimeout:       time.Second,
		IdleGrace:            3,
	}
}

func newTestCoordinator(t *testing.T, client *mock.Client) (*Coordinator, *mockStore, *mockCache) {
	t.Helper()
	st := newMockStore()
	ca := newMockCache()
	c := New(client, st, ca, testConfig())
	t.Cleanup(c.Close)
	return c, st, ca
}

func waitStatus(t *testing.T, c *Coordinator, kind models.JobKind, want models.JobStatus) View {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.View(kind).Status == want
	}, 2*time.Second, 5*time.Millisecond, "kind %s never reached %s (now %s)", kind, want, c.View(kind).Status)
	return c.View(kind)
}

func analysisParams() AnalysisParams {
	return AnalysisParams{Athlete: "joao", Video: "match.mp4", Threshold: threshold(0.65)}
}

func running(kind models.JobKind, progress int) *models.JobSnapshot {
	return &models.JobSnapshot{Kind: kind, Status: models.JobStatusRunning, Progress: progress}
}

func candidates(n int) []models.ReviewCandidate {
	out := make([]models.ReviewCandidate, n)
	for i := range out {
		out[i] = models.ReviewCandidate{ID: fmt.Sprintf("crop-%02d", i), Score: 0.5 + float64(i)/100}
	}
	return out
}

// gatedStatus answers with before until release is called, then with after.
func gatedStatus(before, after *models.JobSnapshot) (func(context.Context, models.JobKind) (*models.JobSnapshot, error), func()) {
	var released atomic.Bool
	return func(context.Context, models.JobKind) (*models.JobSnapshot, error) {
		if released.Load() {
			return after, nil
		}
		return before, nil
	}, func() { released.Store(true) }
}

// --- submit ---

func TestSubmit_ValidationMakesNoNetworkCall(t *testing.T) {
	client := &mock.Client{}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), AnalysisParams{Video: "match.mp4"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "athlete")
	assert.Equal(t, 0, client.Calls("StartJob"))
	assert.Equal(t, models.JobStatusIdle, c.View(models.KindAnalysis).Status)
}

func TestSubmit_OmittedThresholdSentAsDefault(t *testing.T) {
	var sent any
	client := &mock.Client{
		StartJobFunc: func(_ context.Context, _ models.JobKind, params any) error {
			sent = params
			return nil
		},
		GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 1)),
	}
	c, _, _ := newTestCoordinator(t, client)

	var p AnalysisParams
	require.NoError(t, json.Unmarshal([]byte(`{"athlete":"joao","video":"match.mp4"}`), &p))
	_, err := c.Submit(context.Background(), p)
	require.NoError(t, err)

	body, err := json.Marshal(sent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"athlete":"joao","video":"match.mp4","youtube_url":"","threshold":0.65}`, string(body))
}

func TestSubmit_ConflictWhileRunning(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 10))}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)
	waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)

	_, err = c.Submit(context.Background(), analysisParams())

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.CanCancel)
	assert.Equal(t, 1, client.Calls("StartJob"))
}

func TestSubmit_ConflictWhileAwaitingReview(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
		Kind: models.KindCapture, Status: models.JobStatusAwaitingReview, Candidates: candidates(2),
	})}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), CaptureParams{Athlete: "ana", Video: "v.mp4"})
	require.NoError(t, err)
	waitStatus(t, c, models.KindCapture, models.JobStatusAwaitingReview)

	_, err = c.Submit(context.Background(), CaptureParams{Athlete: "ana", Video: "v.mp4"})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, conflict.CanCancel)
	assert.Equal(t, models.JobStatusAwaitingReview, conflict.Status)
	assert.Equal(t, 1, client.Calls("StartJob"))
}

func TestSubmit_RapidDoubleSubmitStartsOnce(t *testing.T) {
	gate := make(chan struct{})
	client := &mock.Client{
		StartJobFunc: func(context.Context, models.JobKind, any) error {
			<-gate
			return nil
		},
		GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 5)),
	}
	c, _, _ := newTestCoordinator(t, client)

	first := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), analysisParams())
		first <- err
	}()
	require.Eventually(t, func() bool { return client.Calls("StartJob") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, Controls{}, c.View(models.KindAnalysis).Controls, "controls disabled while submitting")

	_, err := c.Submit(context.Background(), analysisParams())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	close(gate)
	require.NoError(t, <-first)
	assert.Equal(t, 1, client.Calls("StartJob"))
}

func TestSubmit_BackendConflict(t *testing.T) {
	client := &mock.Client{StartJobFunc: func(context.Context, models.JobKind, any) error {
		return fmt.Errorf("%w: analysis already running", backend.ErrConflict)
	}}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.CanCancel)
	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusIdle, v.Status)
	assert.True(t, v.Controls.Submit)
	assert.Equal(t, 0, client.Calls("GetJobStatus"))
}

func TestSubmit_TransportError(t *testing.T) {
	client := mock.NewUnreachableClient()
	c, st, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, backend.ErrBackendUnreachable)
	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusIdle, v.Status)
	assert.True(t, v.Controls.Submit)
	assert.Nil(t, v.JobID)
	assert.Empty(t, st.runs)
}

func TestSubmit_Rejected(t *testing.T) {
	client := &mock.Client{StartJobFunc: func(context.Context, models.JobKind, any) error {
		return fmt.Errorf("%w: video not found", backend.ErrBackendError)
	}}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Message, "video not found")
}

func TestSubmit_SharedLockHeld(t *testing.T) {
	client := &mock.Client{}
	c, _, ca := newTestCoordinator(t, client)
	ca.locks["lock:submit:analysis"] = true

	_, err := c.Submit(context.Background(), analysisParams())

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, client.Calls("StartJob"))
}

func TestSubmit_LockErrorFailsOpen(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 5))}
	c, _, ca := newTestCoordinator(t, client)
	ca.lockErr = errors.New("redis down")

	_, err := c.Submit(context.Background(), analysisParams())

	require.NoError(t, err)
	assert.Equal(t, 1, client.Calls("StartJob"))
}

func TestSubmit_KindsAreIndependent(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		return running(kind, 20), nil
	}}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), ScriptParams{Script: "extract_frames"})
	require.NoError(t, err)

	waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)
	waitStatus(t, c, models.KindScript, models.JobStatusRunning)
	assert.Equal(t, 2, client.Calls("StartJob"))
}

// --- end to end ---

func TestAnalysis_EndToEnd(t *testing.T) {
	status, release := gatedStatus(
		&models.JobSnapshot{
			Kind: models.KindAnalysis, Status: models.JobStatusRunning, Progress: 40,
			Counters: models.Counters{Frame: 1200, TotalFrames: 3000},
		},
		&models.JobSnapshot{
			Kind: models.KindAnalysis, Status: models.JobStatusCompleted, Progress: 100,
			Counters: models.Counters{Matches: 87, Detections: 100, TotalFrames: 3000},
			Result:   &models.ResultRefs{Heatmap: "joao_heatmap.png"},
		},
	)
	var started any
	client := &mock.Client{
		StartJobFunc: func(_ context.Context, _ models.JobKind, params any) error {
			started = params
			return nil
		},
		GetJobStatusFunc: status,
	}
	c, st, ca := newTestCoordinator(t, client)

	handle, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)
	assert.Equal(t, analysisParams(), started)

	v := waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)
	assert.Equal(t, 40, v.Progress)
	assert.Equal(t, "frame 1,200 of 3,000", v.Phase)
	assert.Equal(t, Controls{Cancel: true}, v.Controls)
	assert.True(t, v.Polling)

	release()
	v = waitStatus(t, c, models.KindAnalysis, models.JobStatusCompleted)

	require.NotNil(t, v.Result)
	require.NotNil(t, v.Result.MatchRate)
	assert.Equal(t, 87, *v.Result.MatchRate)
	assert.Equal(t, "/api/v1/artifacts/joao_heatmap.png", v.Result.HeatmapURL)
	assert.False(t, v.Polling)
	assert.True(t, v.Controls.Submit)
	assert.Empty(t, v.Warning)

	polls := client.Calls("GetJobStatus")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, client.Calls("GetJobStatus"), "polling stops after completion")

	assert.Equal(t, models.JobStatusCompleted, st.runStatus(handle.ID))
	assert.Equal(t, models.JobStatusCompleted, ca.status(models.KindAnalysis))
}

func TestCapture_ReviewConfirmSendsSelected(t *testing.T) {
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview, Athlete: "ana",
			Candidates: candidates(10),
		}),
		ConfirmReviewFunc: func(_ context.Context, _ models.JobKind, athlete string, ids []string) (*models.ReviewAck, error) {
			return &models.ReviewAck{Success: true, Saved: len(ids), Total: 42}, nil
		},
	}
	c, st, _ := newTestCoordinator(t, client)

	handle, err := c.Submit(context.Background(), CaptureParams{Athlete: "ana", Video: "v.mp4"})
	require.NoError(t, err)
	waitStatus(t, c, models.KindCapture, models.JobStatusAwaitingReview)

	var rv ReviewView
	require.Eventually(t, func() bool {
		rv, err = c.Review(models.KindCapture)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, rv.Total)
	assert.Equal(t, 10, rv.Selected)

	for _, id := range []string{"crop-01", "crop-04", "crop-07"} {
		_, err := c.ToggleCandidate(models.KindCapture, id)
		require.NoError(t, err)
	}

	ack, err := c.ConfirmReview(context.Background(), models.KindCapture)
	require.NoError(t, err)
	assert.Equal(t, 7, ack.Saved)

	confirmed := client.Confirmed()
	require.Len(t, confirmed, 1)
	assert.Len(t, confirmed[0], 7)
	assert.NotContains(t, confirmed[0], "crop-04")

	v := c.View(models.KindCapture)
	assert.Equal(t, models.JobStatusCompleted, v.Status)
	assert.Equal(t, 42, v.Counters.Total)
	assert.Equal(t, 7, v.Counters.Saved)
	assert.Nil(t, v.Review)
	assert.Equal(t, "7 references saved, 42 total", v.Message)

	_, err = c.Review(models.KindCapture)
	assert.ErrorIs(t, err, ErrNoReview)
	assert.Equal(t, 1, st.decisionCount())
	assert.Equal(t, models.JobStatusCompleted, st.runStatus(handle.ID))
}

func TestReview_EmptyConfirmMatchesDiscard(t *testing.T) {
	batch := []models.ReviewCandidate{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.4}}
	openBatch := func(t *testing.T) (*Coordinator, *mock.Client) {
		client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview, Athlete: "ana", Candidates: batch,
		})}
		c, _, _ := newTestCoordinator(t, client)
		require.NotNil(t, c.Reattach(context.Background(), models.KindCapture))
		_, err := c.Review(models.KindCapture)
		require.NoError(t, err)
		return c, client
	}

	confirmC, confirmClient := openBatch(t)
	_, err := confirmC.ToggleCandidate(models.KindCapture, "a")
	require.NoError(t, err)
	_, err = confirmC.ToggleCandidate(models.KindCapture, "b")
	require.NoError(t, err)
	_, err = confirmC.ConfirmReview(context.Background(), models.KindCapture)
	require.NoError(t, err)

	discardC, discardClient := openBatch(t)
	_, err = discardC.DiscardReview(context.Background(), models.KindCapture)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{}}, confirmClient.Confirmed())
	assert.Equal(t, confirmClient.Confirmed(), discardClient.Confirmed())
	assert.Equal(t, models.JobStatusIdle, confirmC.View(models.KindCapture).Status)
	assert.Equal(t, models.JobStatusIdle, discardC.View(models.KindCapture).Status)
}

func TestReview_ConfirmInFlightDisablesControls(t *testing.T) {
	gate := make(chan struct{})
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview, Candidates: candidates(3),
		}),
		ConfirmReviewFunc: func(_ context.Context, _ models.JobKind, _ string, ids []string) (*models.ReviewAck, error) {
			<-gate
			return &models.ReviewAck{Success: true, Saved: len(ids), Total: len(ids)}, nil
		},
	}
	c, _, _ := newTestCoordinator(t, client)
	require.NotNil(t, c.Reattach(context.Background(), models.KindCapture))

	done := make(chan error, 1)
	go func() {
		_, err := c.ConfirmReview(context.Background(), models.KindCapture)
		done <- err
	}()
	require.Eventually(t, func() bool { return client.Calls("ConfirmReview") == 1 }, time.Second, time.Millisecond)

	v := c.View(models.KindCapture)
	assert.False(t, v.Controls.Confirm)
	assert.False(t, v.Controls.Discard)

	_, err := c.DiscardReview(context.Background(), models.KindCapture)
	assert.ErrorIs(t, err, ErrReviewInFlight)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, client.Calls("ConfirmReview"))
}

func TestReview_FailedConfirmReenablesControls(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview, Candidates: candidates(2),
		}),
		ConfirmReviewFunc: func(_ context.Context, _ models.JobKind, _ string, ids []string) (*models.ReviewAck, error) {
			if fail.Load() {
				return nil, backend.ErrBackendUnreachable
			}
			return &models.ReviewAck{Success: true, Saved: len(ids), Total: 9}, nil
		},
	}
	c, _, _ := newTestCoordinator(t, client)
	require.NotNil(t, c.Reattach(context.Background(), models.KindCapture))

	_, err := c.ConfirmReview(context.Background(), models.KindCapture)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)

	v := c.View(models.KindCapture)
	assert.Equal(t, models.JobStatusAwaitingReview, v.Status)
	assert.True(t, v.Controls.Confirm)
	assert.Contains(t, v.Message, "review decision failed")

	fail.Store(false)
	ack, err := c.ConfirmReview(context.Background(), models.KindCapture)
	require.NoError(t, err)
	assert.Equal(t, 9, ack.Total)
}

func TestReview_BatchFetchedWhenNotEmbedded(t *testing.T) {
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview,
		}),
		GetReviewBatchFunc: func(_ context.Context, kind models.JobKind) (*models.ReviewBatch, error) {
			return &models.ReviewBatch{Kind: kind, Athlete: "rui", Candidates: candidates(4)}, nil
		},
	}
	c, _, _ := newTestCoordinator(t, client)

	require.NotNil(t, c.Reattach(context.Background(), models.KindCapture))

	rv, err := c.Review(models.KindCapture)
	require.NoError(t, err)
	assert.Equal(t, "rui", rv.Athlete)
	assert.Equal(t, 4, rv.Total)
}

func TestReview_ReloadAfterFetchFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
			Kind: models.KindCapture, Status: models.JobStatusAwaitingReview,
		}),
		GetReviewBatchFunc: func(_ context.Context, kind models.JobKind) (*models.ReviewBatch, error) {
			if fail.Load() {
				return nil, backend.ErrBackendTimeout
			}
			return &models.ReviewBatch{Kind: kind, Candidates: candidates(2)}, nil
		},
	}
	c, _, _ := newTestCoordinator(t, client)
	require.NotNil(t, c.Reattach(context.Background(), models.KindCapture))

	_, err := c.Review(models.KindCapture)
	require.ErrorIs(t, err, ErrNoReview)
	assert.Contains(t, c.View(models.KindCapture).Message, "review batch unavailable")

	fail.Store(false)
	require.NoError(t, c.ReloadReview(context.Background(), models.KindCapture))
	rv, err := c.Review(models.KindCapture)
	require.NoError(t, err)
	assert.Equal(t, 2, rv.Total)
}

// --- terminal handling ---

func TestFailure_MessageVerbatim(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(
		running(models.KindScript, 30),
		&models.JobSnapshot{Kind: models.KindScript, Status: models.JobStatusFailed, Error: "ffmpeg: left.mp4 not found"},
	)}
	c, st, _ := newTestCoordinator(t, client)

	handle, err := c.Submit(context.Background(), ScriptParams{Script: "merge_cameras"})
	require.NoError(t, err)

	v := waitStatus(t, c, models.KindScript, models.JobStatusFailed)
	assert.Equal(t, "ffmpeg: left.mp4 not found", v.Message)
	assert.True(t, v.Controls.Submit)
	assert.False(t, v.Polling)
	require.Eventually(t, func() bool {
		return st.runStatus(handle.ID) == models.JobStatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestFailure_MalformedTerminalPayload(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		return &models.JobSnapshot{Kind: kind, Status: models.JobStatusCompleted}, backend.ErrMalformedPayload
	}}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	v := waitStatus(t, c, models.KindAnalysis, models.JobStatusFailed)
	assert.NotEmpty(t, v.Message)
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	var n atomic.Int32
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		if n.Add(1) <= 3 {
			return nil, backend.ErrBackendTimeout
		}
		return running(kind, 55), nil
	}}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	v := waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)
	assert.Equal(t, 55, v.Progress)
	assert.Empty(t, v.Message)
}

func TestArtifactRecheck_PicksUpLateHeatmap(t *testing.T) {
	done := &models.JobSnapshot{
		Kind: models.KindAnalysis, Status: models.JobStatusCompleted, Progress: 100,
		Counters: models.Counters{Matches: 3, Detections: 4},
	}
	withHeatmap := *done
	withHeatmap.Result = &models.ResultRefs{Heatmap: "late.png"}
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(done, &withHeatmap)}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	waitStatus(t, c, models.KindAnalysis, models.JobStatusCompleted)
	require.Eventually(t, func() bool {
		r := c.View(models.KindAnalysis).Result
		return r != nil && r.HeatmapURL == "/api/v1/artifacts/late.png"
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.View(models.KindAnalysis).Warning)
	assert.Equal(t, 2, client.Calls("GetJobStatus"))
}

func TestArtifactRecheck_WarnsOnce(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(&models.JobSnapshot{
		Kind: models.KindAnalysis, Status: models.JobStatusCompleted, Progress: 100,
	})}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.View(models.KindAnalysis).Warning != ""
	}, time.Second, 5*time.Millisecond)
	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusCompleted, v.Status)
	assert.Contains(t, v.Warning, "heatmap")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, client.Calls("GetJobStatus"), "exactly one re-check")
}

func TestIdleAnswersEndSessionAfterGrace(t *testing.T) {
	client := &mock.Client{}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	v := waitStatus(t, c, models.KindAnalysis, models.JobStatusIdle)
	assert.False(t, v.Polling)
	assert.GreaterOrEqual(t, client.Calls("GetJobStatus"), 3)
}

func TestPreviewFrameStored(t *testing.T) {
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 50)),
		GetPreviewFunc: func(context.Context, models.JobKind) (*backend.Artifact, error) {
			return &backend.Artifact{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg"}, nil
		},
	}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := c.Preview(models.KindAnalysis)
		return ok
	}, time.Second, 5*time.Millisecond)
	frame, _ := c.Preview(models.KindAnalysis)
	assert.Equal(t, "image/jpeg", frame.ContentType)
	assert.True(t, c.View(models.KindAnalysis).HasPreview)
}

// --- cancel ---

func TestCancel_StopsPollingEvenWhenBackendFails(t *testing.T) {
	client := &mock.Client{
		GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 25)),
		CancelJobFunc: func(context.Context, models.JobKind) error {
			return backend.ErrBackendUnreachable
		},
	}
	c, st, _ := newTestCoordinator(t, client)

	handle, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)
	waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)

	err = c.Cancel(context.Background(), models.KindAnalysis)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)

	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusIdle, v.Status)
	assert.False(t, v.Polling)
	assert.True(t, v.Controls.Submit)

	polls := client.Calls("GetJobStatus")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, client.Calls("GetJobStatus"))
	assert.Equal(t, models.JobStatusIdle, st.runStatus(handle.ID))
}

func TestCancel_ThenResubmit(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(running(models.KindCapture, 25))}
	c, _, _ := newTestCoordinator(t, client)

	_, err := c.Submit(context.Background(), CaptureParams{Athlete: "ana", Video: "v.mp4"})
	require.NoError(t, err)
	waitStatus(t, c, models.KindCapture, models.JobStatusRunning)

	require.NoError(t, c.Cancel(context.Background(), models.KindCapture))
	_, err = c.Submit(context.Background(), CaptureParams{Athlete: "ana", Video: "v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.Calls("StartJob"))
}

// --- recovery ---

func TestRecover_RunningStartsOneSession(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		if kind == models.KindAnalysis {
			return &models.JobSnapshot{Kind: kind, Status: models.JobStatusRunning, Progress: 70, Athlete: "joao"}, nil
		}
		return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
	}}
	c, st, _ := newTestCoordinator(t, client)

	found := c.Recover(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, models.KindAnalysis, found[0].Kind)

	c.mu.Lock()
	first := c.jobs[models.KindAnalysis].session
	c.mu.Unlock()
	require.NotNil(t, first)

	assert.Empty(t, c.Recover(context.Background()), "already tracked kinds are not re-attached")

	c.mu.Lock()
	second := c.jobs[models.KindAnalysis].session
	c.mu.Unlock()
	assert.Same(t, first, second)
	assert.Equal(t, 0, client.Calls("StartJob"))

	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusRunning, v.Status)
	assert.Equal(t, "joao", v.Athlete)
	assert.Equal(t, models.JobStatusIdle, c.View(models.KindCapture).Status)

	require.Len(t, st.runs, 1)
	for _, r := range st.runs {
		assert.True(t, r.Recovered)
	}
}

func TestRecover_UnreachableLeavesEverythingIdle(t *testing.T) {
	client := mock.NewUnreachableClient()
	c, _, _ := newTestCoordinator(t, client)

	assert.Empty(t, c.Recover(context.Background()))
	for _, v := range c.Views() {
		assert.Equal(t, models.JobStatusIdle, v.Status)
		assert.True(t, v.Controls.Submit)
	}
	assert.Equal(t, len(models.Kinds), client.Calls("GetJobStatus"))
}

func TestRecover_CompletedWithoutResultIsIdle(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		return &models.JobSnapshot{Kind: kind, Status: models.JobStatusCompleted, Progress: 100}, nil
	}}
	c, _, _ := newTestCoordinator(t, client)

	assert.Empty(t, c.Recover(context.Background()))
	assert.Equal(t, models.JobStatusIdle, c.View(models.KindScript).Status)
}

func TestRecover_CompletedWithResultRenders(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		if kind != models.KindAnalysis {
			return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
		}
		return &models.JobSnapshot{
			Kind: kind, Status: models.JobStatusCompleted, Progress: 100,
			Counters: models.Counters{Matches: 1, Detections: 3},
			Result:   &models.ResultRefs{Heatmap: "h.png", CSV: "h.csv"},
		}, nil
	}}
	c, _, _ := newTestCoordinator(t, client)

	require.Len(t, c.Recover(context.Background()), 1)
	v := c.View(models.KindAnalysis)
	assert.Equal(t, models.JobStatusCompleted, v.Status)
	require.NotNil(t, v.Result)
	assert.Equal(t, 33, *v.Result.MatchRate)
	assert.Equal(t, "/api/v1/artifacts/h.csv", v.Result.CSVURL)
	assert.False(t, v.Polling)
}

func TestRecover_FailedShowsMessage(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		if kind != models.KindScript {
			return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
		}
		return &models.JobSnapshot{Kind: kind, Status: models.JobStatusFailed, Error: "out of disk"}, nil
	}}
	c, _, _ := newTestCoordinator(t, client)

	c.Recover(context.Background())
	v := c.View(models.KindScript)
	assert.Equal(t, models.JobStatusFailed, v.Status)
	assert.Equal(t, "out of disk", v.Message)
}

func TestClose_StopsSessions(t *testing.T) {
	client := &mock.Client{GetJobStatusFunc: mock.StatusSequence(running(models.KindAnalysis, 5))}
	c := New(client, nil, nil, testConfig())

	_, err := c.Submit(context.Background(), analysisParams())
	require.NoError(t, err)
	waitStatus(t, c, models.KindAnalysis, models.JobStatusRunning)

	c.Close()
	c.Close()

	polls := client.Calls("GetJobStatus")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, polls, client.Calls("GetJobStatus"))

	_, err = c.Submit(context.Background(), analysisParams())
	assert.ErrorIs(t, err, ErrClosed)
}

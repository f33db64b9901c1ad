package mock

import (
	"context"
	"sync"

	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Client satisfies backend.Client for testing. Unset funcs return zero
// values. Every call is counted per method name.
type Client struct {
	StartJobFunc       func(ctx context.Context, kind models.JobKind, params any) error
	GetJobStatusFunc   func(ctx context.Context, kind models.JobKind) (*models.JobSnapshot, error)
	CancelJobFunc      func(ctx context.Context, kind models.JobKind) error
	GetReviewBatchFunc func(ctx context.Context, kind models.JobKind) (*models.ReviewBatch, error)
	ConfirmReviewFunc  func(ctx context.Context, kind models.JobKind, athlete string, ids []string) (*models.ReviewAck, error)
	GetArtifactFunc    func(ctx context.Context, ref string) (*backend.Artifact, error)
	GetPreviewFunc     func(ctx context.Context, kind models.JobKind) (*backend.Artifact, error)
	ListAthletesFunc   func(ctx context.Context) ([]models.Athlete, error)
	BuildEmbeddingFunc func(ctx context.Context, athlete string, photos []backend.Photo) (int, error)
	GetRosterFunc      func(ctx context.Context) (*models.Roster, error)
	AddPlayerFunc      func(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	RemovePlayerFunc   func(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	MovePlayerFunc     func(ctx context.Context, name string, from, to models.Team) (*models.Roster, error)
	ExtractFrameFunc   func(ctx context.Context, src string, ts float64) (*models.Frame, error)
	SaveCropFunc       func(ctx context.Context, athlete, src string, ts float64, box models.Box) (*models.SavedCrop, error)
	CalibrateFunc      func(ctx context.Context, athlete, src string, ts, threshold float64) (*models.Calibration, error)
	ListProcessesFunc  func(ctx context.Context) ([]models.Process, error)
	KillProcessFunc    func(ctx context.Context, script string) error
	KillAllFunc        func(ctx context.Context) (int, error)
	ReadyFunc          func(ctx context.Context) error

	mu        sync.Mutex
	calls     map[string]int
	confirmed [][]string
}

func (m *Client) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method ran.
func (m *Client) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Confirmed returns the id lists passed to ConfirmReview, in call order.
func (m *Client) Confirmed() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.confirmed))
	copy(out, m.confirmed)
	return out
}

func (m *Client) StartJob(ctx context.Context, kind models.JobKind, params any) error {
	m.record("StartJob")
	if m.StartJobFunc != nil {
		return m.StartJobFunc(ctx, kind, params)
	}
	return nil
}

func (m *Client) GetJobStatus(ctx context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
	m.record("GetJobStatus")
	if m.GetJobStatusFunc != nil {
		return m.GetJobStatusFunc(ctx, kind)
	}
	return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
}

func (m *Client) CancelJob(ctx context.Context, kind models.JobKind) error {
	m.record("CancelJob")
	if m.CancelJobFunc != nil {
		return m.CancelJobFunc(ctx, kind)
	}
	return nil
}

func (m *Client) GetReviewBatch(ctx context.Context, kind models.JobKind) (*models.ReviewBatch, error) {
	m.record("GetReviewBatch")
	if m.GetReviewBatchFunc != nil {
		return m.GetReviewBatchFunc(ctx, kind)
	}
	return &models.ReviewBatch{Kind: kind}, nil
}

func (m *Client) ConfirmReview(ctx context.Context, kind models.JobKind, athlete string, ids []string) (*models.ReviewAck, error) {
	m.record("ConfirmReview")
	m.mu.Lock()
	m.confirmed = append(m.confirmed, append([]string{}, ids...))
	m.mu.Unlock()
	if m.ConfirmReviewFunc != nil {
		return m.ConfirmReviewFunc(ctx, kind, athlete, ids)
	}
	return &models.ReviewAck{Success: true, Saved: len(ids), Total: len(ids)}, nil
}

func (m *Client) GetArtifact(ctx context.Context, ref string) (*backend.Artifact, error) {
	m.record("GetArtifact")
	if m.GetArtifactFunc != nil {
		return m.GetArtifactFunc(ctx, ref)
	}
	return nil, backend.ErrNotFound
}

func (m *Client) GetPreview(ctx context.Context, kind models.JobKind) (*backend.Artifact, error) {
	m.record("GetPreview")
	if m.GetPreviewFunc != nil {
		return m.GetPreviewFunc(ctx, kind)
	}
	return nil, nil
}

func (m *Client) ListAthletes(ctx context.Context) ([]models.Athlete, error) {
	m.record("ListAthletes")
	if m.ListAthletesFunc != nil {
		return m.ListAthletesFunc(ctx)
	}
	return []models.Athlete{}, nil
}

func (m *Client) BuildEmbedding(ctx context.Context, athlete string, photos []backend.Photo) (int, error) {
	m.record("BuildEmbedding")
	if m.BuildEmbeddingFunc != nil {
		return m.BuildEmbeddingFunc(ctx, athlete, photos)
	}
	return len(photos), nil
}

func (m *Client) GetRoster(ctx context.Context) (*models.Roster, error) {
	m.record("GetRoster")
	if m.GetRosterFunc != nil {
		return m.GetRosterFunc(ctx)
	}
	return &models.Roster{Blue: []string{}, Black: []string{}}, nil
}

func (m *Client) AddPlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error) {
	m.record("AddPlayer")
	if m.AddPlayerFunc != nil {
		return m.AddPlayerFunc(ctx, team, name)
	}
	return &models.Roster{Blue: []string{}, Black: []string{}}, nil
}

func (m *Client) RemovePlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error) {
	m.record("RemovePlayer")
	if m.RemovePlayerFunc != nil {
		return m.RemovePlayerFunc(ctx, team, name)
	}
	return &models.Roster{Blue: []string{}, Black: []string{}}, nil
}

func (m *Client) MovePlayer(ctx context.Context, name string, from, to models.Team) (*models.Roster, error) {
	m.record("MovePlayer")
	if m.MovePlayerFunc != nil {
		return m.MovePlayerFunc(ctx, name, from, to)
	}
	return &models.Roster{Blue: []string{}, Black: []string{}}, nil
}

func (m *Client) ExtractFrame(ctx context.Context, src string, ts float64) (*models.Frame, error) {
	m.record("ExtractFrame")
	if m.ExtractFrameFunc != nil {
		return m.ExtractFrameFunc(ctx, src, ts)
	}
	return &models.Frame{Source: src, Timestamp: ts, Boxes: []models.Box{}, SourceBoxes: []models.Box{}}, nil
}

func (m *Client) SaveCrop(ctx context.Context, athlete, src string, ts float64, box models.Box) (*models.SavedCrop, error) {
	m.record("SaveCrop")
	if m.SaveCropFunc != nil {
		return m.SaveCropFunc(ctx, athlete, src, ts, box)
	}
	return &models.SavedCrop{Athlete: athlete, Photos: 1}, nil
}

func (m *Client) Calibrate(ctx context.Context, athlete, src string, ts, threshold float64) (*models.Calibration, error) {
	m.record("Calibrate")
	if m.CalibrateFunc != nil {
		return m.CalibrateFunc(ctx, athlete, src, ts, threshold)
	}
	return &models.Calibration{Athlete: athlete, Source: src, Timestamp: ts, Threshold: threshold}, nil
}

func (m *Client) ListProcesses(ctx context.Context) ([]models.Process, error) {
	m.record("ListProcesses")
	if m.ListProcessesFunc != nil {
		return m.ListProcessesFunc(ctx)
	}
	return []models.Process{}, nil
}

func (m *Client) KillProcess(ctx context.Context, script string) error {
	m.record("KillProcess")
	if m.KillProcessFunc != nil {
		return m.KillProcessFunc(ctx, script)
	}
	return nil
}

func (m *Client) KillAllProcesses(ctx context.Context) (int, error) {
	m.record("KillAllProcesses")
	if m.KillAllFunc != nil {
		return m.KillAllFunc(ctx)
	}
	return 0, nil
}

func (m *Client) Ready(ctx context.Context) error {
	m.record("Ready")
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// NewUnreachableClient returns a Client whose every job call fails with a
// transport error.
func NewUnreachableClient() *Client {
	return &Client{
		StartJobFunc: func(context.Context, models.JobKind, any) error {
			return backend.ErrBackendUnreachable
		},
		GetJobStatusFunc: func(context.Context, models.JobKind) (*models.JobSnapshot, error) {
			return nil, backend.ErrBackendUnreachable
		},
		CancelJobFunc: func(context.Context, models.JobKind) error {
			return backend.ErrBackendUnreachable
		},
		ReadyFunc: func(context.Context) error {
			return backend.ErrBackendUnreachable
		},
	}
}

// StatusSequence returns a GetJobStatusFunc that answers with snaps in order
// and repeats the last one once exhausted.
func StatusSequence(snaps ...*models.JobSnapshot) func(context.Context, models.JobKind) (*models.JobSnapshot, error) {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(snaps) == 0 {
			return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
		}
		s := snaps[i]
		if i < len(snaps)-1 {
			i++
		}
		cp := *s
		cp.Kind = kind
		return &cp, nil
	}
}

// Compile-time check that Client implements backend.Client.
var _ backend.Client = (*Client)(nil)

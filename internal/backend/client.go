package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tercanobre/reidpanel/pkg/models"
)

// Sentinel errors for ReID backend failures.
var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrBackendError       = errors.New("backend error")
	ErrConflict           = errors.New("job already running")
	ErrMalformedPayload   = errors.New("malformed backend payload")
	ErrNotFound           = errors.New("not found")
	ErrRejected           = errors.New("backend rejected the request")
)

// Client is the interface for driving jobs on the ReID backend.
type Client interface {
	StartJob(ctx context.Context, kind models.JobKind, params any) error
	GetJobStatus(ctx context.Context, kind models.JobKind) (*models.JobSnapshot, error)
	CancelJob(ctx context.Context, kind models.JobKind) error
	GetReviewBatch(ctx context.Context, kind models.JobKind) (*models.ReviewBatch, error)
	ConfirmReview(ctx context.Context, kind models.JobKind, athlete string, selectedIDs []string) (*models.ReviewAck, error)
	GetArtifact(ctx context.Context, ref string) (*Artifact, error)
	GetPreview(ctx context.Context, kind models.JobKind) (*Artifact, error)

	ListAthletes(ctx context.Context) ([]models.Athlete, error)
	BuildEmbedding(ctx context.Context, athlete string, photos []Photo) (int, error)
	GetRoster(ctx context.Context) (*models.Roster, error)
	AddPlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	RemovePlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error)
	MovePlayer(ctx context.Context, name string, from, to models.Team) (*models.Roster, error)

	ExtractFrame(ctx context.Context, src string, ts float64) (*models.Frame, error)
	SaveCrop(ctx context.Context, athlete, src string, ts float64, box models.Box) (*models.SavedCrop, error)
	Calibrate(ctx context.Context, athlete, src string, ts, threshold float64) (*models.Calibration, error)

	ListProcesses(ctx context.Context) ([]models.Process, error)
	KillProcess(ctx context.Context, script string) error
	KillAllProcesses(ctx context.Context) (int, error)

	Ready(ctx context.Context) error
}

// Artifact is an opaque file produced by a job.
type Artifact struct {
	Data        []byte
	ContentType string
}

// Photo is one reference image uploaded for an embedding build.
type Photo struct {
	Filename string
	Data     []byte
}

// HTTPClient implements Client over the backend's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a backend client. maxRPS <= 0 disables client-side
// request pacing.
func NewHTTPClient(baseURL string, timeout time.Duration, maxRPS float64) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	if maxRPS > 0 {
		burst := int(maxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(maxRPS), burst)
	}
	return c
}

func (c *HTTPClient) StartJob(ctx context.Context, kind models.JobKind, params any) error {
	var out startResponse
	status, err := c.doJSON(ctx, http.MethodPost, jobPath(kind, ""), params, &out)
	if err != nil {
		if status == http.StatusConflict || looksLikeConflict(err.Error()) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	if !out.Success {
		if looksLikeConflict(out.Error) {
			return fmt.Errorf("%w: %s", ErrConflict, out.Error)
		}
		return refused(out.Error)
	}
	return nil
}

// GetJobStatus decodes the status field first so a terminal answer whose body
// is otherwise broken surfaces as ErrMalformedPayload instead of a transient
// error.
func (c *HTTPClient) GetJobStatus(ctx context.Context, kind models.JobKind) (*models.JobSnapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, jobPath(kind, "/status"), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return &models.JobSnapshot{Kind: kind, Status: models.JobStatusIdle}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading status body: %w", err)
	}
	return decodeStatus(kind, body)
}

func (c *HTTPClient) CancelJob(ctx context.Context, kind models.JobKind) error {
	var out startResponse
	if _, err := c.doJSON(ctx, http.MethodPost, jobPath(kind, "/cancel"), nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return refused(out.Error)
	}
	return nil
}

func (c *HTTPClient) GetReviewBatch(ctx context.Context, kind models.JobKind) (*models.ReviewBatch, error) {
	var out reviewResponse
	if _, err := c.doJSON(ctx, http.MethodGet, jobPath(kind, "/review"), nil, &out); err != nil {
		return nil, err
	}
	batch := &models.ReviewBatch{
		Kind:       kind,
		Athlete:    out.Athlete,
		Candidates: make([]models.ReviewCandidate, 0, len(out.Candidates)),
		FetchedAt:  time.Now().UTC(),
	}
	for _, rc := range out.Candidates {
		batch.Candidates = append(batch.Candidates, rc.toModel())
	}
	return batch, nil
}

func (c *HTTPClient) ConfirmReview(ctx context.Context, kind models.JobKind, athlete string, selectedIDs []string) (*models.ReviewAck, error) {
	if selectedIDs == nil {
		selectedIDs = []string{}
	}
	req := confirmRequest{Athlete: athlete, SelectedIDs: selectedIDs}
	var ack models.ReviewAck
	if _, err := c.doJSON(ctx, http.MethodPost, jobPath(kind, "/review/confirm"), req, &ack); err != nil {
		return nil, err
	}
	if !ack.Success {
		return nil, refused(ack.Error)
	}
	return &ack, nil
}

func (c *HTTPClient) GetArtifact(ctx context.Context, ref string) (*Artifact, error) {
	return c.getBinary(ctx, "/api/artifacts/"+url.PathEscape(ref))
}

// GetPreview returns nil without error when no frame is available yet.
func (c *HTTPClient) GetPreview(ctx context.Context, kind models.JobKind) (*Artifact, error) {
	a, err := c.getBinary(ctx, jobPath(kind, "/preview"))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (c *HTTPClient) ListAthletes(ctx context.Context) ([]models.Athlete, error) {
	var out athletesResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/athletes", nil, &out); err != nil {
		return nil, err
	}
	if out.Athletes == nil {
		return []models.Athlete{}, nil
	}
	return out.Athletes, nil
}

// BuildEmbedding uploads reference photos and returns how many the backend kept.
func (c *HTTPClient) BuildEmbedding(ctx context.Context, athlete string, photos []Photo) (int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range photos {
		fw, err := mw.CreateFormFile("photos", p.Filename)
		if err != nil {
			return 0, fmt.Errorf("building multipart body: %w", err)
		}
		if _, err := fw.Write(p.Data); err != nil {
			return 0, fmt.Errorf("building multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("building multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, athletePath(athlete, "/embedding"), &buf, mw.FormDataContentType())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding embedding response: %w", err)
	}
	if !out.Success {
		return 0, refused(out.Error)
	}
	return out.Photos, nil
}

func (c *HTTPClient) GetRoster(ctx context.Context) (*models.Roster, error) {
	return c.rosterCall(ctx, http.MethodGet, "/api/roster", nil)
}

func (c *HTTPClient) AddPlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error) {
	return c.rosterCall(ctx, http.MethodPost, "/api/roster/players", playerRequest{Team: team, Name: name})
}

func (c *HTTPClient) RemovePlayer(ctx context.Context, team models.Team, name string) (*models.Roster, error) {
	return c.rosterCall(ctx, http.MethodDelete, "/api/roster/players", playerRequest{Team: team, Name: name})
}

func (c *HTTPClient) MovePlayer(ctx context.Context, name string, from, to models.Team) (*models.Roster, error) {
	return c.rosterCall(ctx, http.MethodPost, "/api/roster/players/move", moveRequest{Name: name, From: from, To: to})
}

// ExtractFrame grabs the frame at ts seconds from a local video or stream URL
// and returns it with every detected person boxed.
func (c *HTTPClient) ExtractFrame(ctx context.Context, src string, ts float64) (*models.Frame, error) {
	var out frameResponse
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/frames", frameRequest{Source: src, Timestamp: ts}, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, refused(out.Error)
	}
	return &models.Frame{
		Source:      src,
		Timestamp:   ts,
		Image:       out.Image,
		Width:       out.Width,
		Height:      out.Height,
		Boxes:       nonNilBoxes(out.Boxes),
		SourceBoxes: nonNilBoxes(out.SourceBoxes),
	}, nil
}

// SaveCrop stores one person box of a frame as a reference photo. box is in
// source-frame coordinates.
func (c *HTTPClient) SaveCrop(ctx context.Context, athlete, src string, ts float64, box models.Box) (*models.SavedCrop, error) {
	var out cropResponse
	req := cropRequest{Source: src, Timestamp: ts, Box: box}
	if _, err := c.doJSON(ctx, http.MethodPost, athletePath(athlete, "/crops"), req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, refused(out.Error)
	}
	return &models.SavedCrop{Athlete: athlete, File: out.File, Photos: out.Photos}, nil
}

// Calibrate runs ReID against the athlete's embedding on a single frame.
func (c *HTTPClient) Calibrate(ctx context.Context, athlete, src string, ts, threshold float64) (*models.Calibration, error) {
	var out calibrationResponse
	req := calibrationRequest{Source: src, Timestamp: ts, Threshold: threshold}
	if _, err := c.doJSON(ctx, http.MethodPost, athletePath(athlete, "/calibrate"), req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, refused(out.Error)
	}
	return &models.Calibration{
		Athlete:   athlete,
		Source:    src,
		Timestamp: ts,
		Threshold: threshold,
		Matches:   out.Matches,
		Total:     out.Total,
		Image:     out.Image,
		Width:     out.Width,
		Height:    out.Height,
	}, nil
}

func (c *HTTPClient) ListProcesses(ctx context.Context) ([]models.Process, error) {
	var out processesResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/processes", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, refused(out.Error)
	}
	procs := make([]models.Process, 0, len(out.Processes))
	for _, wp := range out.Processes {
		procs = append(procs, wp.toModel())
	}
	return procs, nil
}

// KillProcess stops one background script. An unknown script is ErrNotFound.
func (c *HTTPClient) KillProcess(ctx context.Context, script string) error {
	var out killResponse
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/processes/kill", killRequest{Script: script}, &out); err != nil {
		return err
	}
	if !out.Success {
		return refused(out.Error)
	}
	return nil
}

// KillAllProcesses stops every background script and returns how many stopped.
func (c *HTTPClient) KillAllProcesses(ctx context.Context) (int, error) {
	var out killResponse
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/processes/kill-all", nil, &out); err != nil {
		return 0, err
	}
	if !out.Success {
		return 0, refused(out.Error)
	}
	return out.Count, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/health", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend not ready (status %d)", ErrBackendUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) rosterCall(ctx context.Context, method, path string, body any) (*models.Roster, error) {
	var out models.Roster
	if _, err := c.doJSON(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	if out.Blue == nil {
		out.Blue = []string{}
	}
	if out.Black == nil {
		out.Black = []string{}
	}
	return &out, nil
}

func (c *HTTPClient) getBinary(ctx context.Context, path string) (*Artifact, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNotFound
	default:
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading artifact body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Artifact{Data: data, ContentType: ct}, nil
}

// doJSON sends body as JSON and decodes a 2xx answer into out. It returns the
// HTTP status so callers can classify non-2xx answers.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, r, contentType)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, statusError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func jobPath(kind models.JobKind, suffix string) string {
	return "/api/jobs/" + url.PathEscape(string(kind)) + suffix
}

func athletePath(athlete, suffix string) string {
	return "/api/athletes/" + url.PathEscape(athlete) + suffix
}

func nonNilBoxes(b []models.Box) []models.Box {
	if b == nil {
		return []models.Box{}
	}
	return b
}

// statusError turns a non-2xx answer into an error carrying the backend's
// message when it sent one. 400 and 422 answers also match ErrRejected.
func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil && env.Error != "" {
		msg = env.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	detail := fmt.Sprintf("status %d", resp.StatusCode)
	if msg != "" {
		detail += ": " + msg
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %w: %s", ErrBackendError, ErrRejected, detail)
	}
	return fmt.Errorf("%w: %s", ErrBackendError, detail)
}

// refused reports a 2xx answer whose success flag is false.
func refused(msg string) error {
	if msg == "" {
		msg = "request refused without a reason"
	}
	return fmt.Errorf("%w: %s", ErrBackendError, msg)
}

func looksLikeConflict(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already running") ||
		strings.Contains(m, "already active") ||
		strings.Contains(m, "em andamento") ||
		strings.Contains(m, "rodando")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

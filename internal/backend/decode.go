package backend

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tercanobre/reidpanel/pkg/models"
)

type startResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	JobID   string `json:"job_id"`
}

type confirmRequest struct {
	Athlete     string   `json:"athlete"`
	SelectedIDs []string `json:"selected_ids"`
}

type playerRequest struct {
	Team models.Team `json:"team"`
	Name string      `json:"name"`
}

type moveRequest struct {
	Name string      `json:"name"`
	From models.Team `json:"from"`
	To   models.Team `json:"to"`
}

type athletesResponse struct {
	Athletes []models.Athlete `json:"athletes"`
}

type embeddingResponse struct {
	Success bool   `json:"success"`
	Photos  int    `json:"photos"`
	Error   string `json:"error"`
}

type frameRequest struct {
	Source    string  `json:"src"`
	Timestamp float64 `json:"ts"`
}

// frameResponse carries the annotated JPEG as base64 in frame_b64. boxes are
// scaled to the JPEG, boxes_orig are in source-frame pixels.
type frameResponse struct {
	Success     bool         `json:"success"`
	Error       string       `json:"error"`
	Image       []byte       `json:"frame_b64"`
	Width       int          `json:"w"`
	Height      int          `json:"h"`
	Boxes       []models.Box `json:"boxes"`
	SourceBoxes []models.Box `json:"boxes_orig"`
}

type cropRequest struct {
	Source    string     `json:"src"`
	Timestamp float64    `json:"ts"`
	Box       models.Box `json:"box"`
}

type cropResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	File    string `json:"file"`
	Photos  int    `json:"photos"`
}

type calibrationRequest struct {
	Source    string  `json:"src"`
	Timestamp float64 `json:"ts"`
	Threshold float64 `json:"threshold"`
}

type calibrationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Image   []byte `json:"frame_b64"`
	Width   int    `json:"w"`
	Height  int    `json:"h"`
	Matches int    `json:"matches"`
	Total   int    `json:"total"`
}

type processesResponse struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error"`
	Processes []wireProcess `json:"processes"`
}

type wireProcess struct {
	Script     string `json:"script"`
	PID        int    `json:"pid"`
	Running    bool   `json:"running"`
	ReturnCode *int   `json:"returncode"`
}

func (w wireProcess) toModel() models.Process {
	return models.Process{Script: w.Script, PID: w.PID, Running: w.Running, ReturnCode: w.ReturnCode}
}

type killRequest struct {
	Script string `json:"script"`
}

type killResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Count   int    `json:"count"`
}

type reviewResponse struct {
	Athlete    string          `json:"athlete"`
	Candidates []wireCandidate `json:"candidates"`
}

type wireCandidate struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	Tags      map[string]float64 `json:"tags"`
	Thumbnail string             `json:"thumbnail"`
	Timestamp float64            `json:"timestamp"`
}

func (w wireCandidate) toModel() models.ReviewCandidate {
	return models.ReviewCandidate{
		ID:        w.ID,
		Score:     w.Score,
		Tags:      w.Tags,
		Thumbnail: w.Thumbnail,
		Timestamp: w.Timestamp,
		Selected:  true,
	}
}

// statusHead is the discriminant of a status answer. The script endpoint
// reports a boolean running flag instead of a status string.
type statusHead struct {
	Status  *string `json:"status"`
	Running *bool   `json:"running"`
	PID     *int    `json:"pid"`
}

type statusPayload struct {
	Progress    float64 `json:"progress"`
	Progresso   float64 `json:"progresso"`
	Phase       string  `json:"phase"`
	Msg         string  `json:"msg"`
	Athlete     string  `json:"athlete"`
	Frame       float64 `json:"frame"`
	TotalFrames float64 `json:"total_frames"`
	Matches     float64 `json:"matches"`
	Detections  float64 `json:"detections"`
	Deteccoes   float64 `json:"deteccoes"`
	Saved       float64 `json:"saved"`
	Evaluated   float64 `json:"evaluated"`
	CurrentTS   float64 `json:"current_ts"`
	Duration    float64 `json:"duration"`
	ImagesNew   float64 `json:"images_new"`
	ImagesTotal float64 `json:"images_total"`
	ImgsNew     float64 `json:"imgs_new"`
	ImgsTotal   float64 `json:"imgs_total"`
	Total       float64 `json:"n_total"`

	Heatmap    string              `json:"heatmap"`
	CSV        string              `json:"csv"`
	Zones      *models.ZoneSummary `json:"zones"`
	Candidates []wireCandidate     `json:"candidates"`
	Log        []string            `json:"log"`
	Error      string              `json:"error"`
	Erro       string              `json:"erro"`
}

func decodeStatus(kind models.JobKind, body []byte) (*models.JobSnapshot, error) {
	var head statusHead
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: decoding status: %v", ErrBackendError, err)
	}

	snap := &models.JobSnapshot{Kind: kind, Status: headStatus(head)}
	if head.PID != nil {
		snap.PID = *head.PID
	}

	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		if snap.Status.Terminal() {
			return snap, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return nil, fmt.Errorf("%w: decoding status: %v", ErrBackendError, err)
	}

	snap.Progress = models.ClampProgress(int(math.Round(firstNonZero(p.Progress, p.Progresso))))
	snap.Phase = firstString(p.Phase, p.Msg)
	snap.Athlete = p.Athlete
	snap.Counters = models.Counters{
		Frame:       int(p.Frame),
		TotalFrames: int(p.TotalFrames),
		Matches:     int(p.Matches),
		Detections:  int(firstNonZero(p.Detections, p.Deteccoes)),
		Saved:       int(p.Saved),
		Evaluated:   int(p.Evaluated),
		CurrentTS:   int(p.CurrentTS),
		Duration:    int(p.Duration),
		ImagesNew:   int(firstNonZero(p.ImagesNew, p.ImgsNew)),
		ImagesTotal: int(firstNonZero(p.ImagesTotal, p.ImgsTotal)),
		Total:       int(p.Total),
	}
	if p.Heatmap != "" || p.CSV != "" || p.Zones != nil {
		snap.Result = &models.ResultRefs{Heatmap: p.Heatmap, CSV: p.CSV, Zones: p.Zones}
	}
	for _, wc := range p.Candidates {
		snap.Candidates = append(snap.Candidates, wc.toModel())
	}
	snap.Log = p.Log
	snap.Error = firstString(p.Error, p.Erro)

	if snap.Status == models.JobStatusCompleted && snap.Progress == 0 {
		snap.Progress = 100
	}
	return snap, nil
}

// headStatus resolves the discriminant. A finished script (running=false)
// still reports the pid of its last run; without one nothing ever ran.
func headStatus(h statusHead) models.JobStatus {
	if h.Status != nil {
		return models.ParseJobStatus(*h.Status)
	}
	if h.Running != nil {
		if *h.Running {
			return models.JobStatusRunning
		}
		if h.PID != nil && *h.PID > 0 {
			return models.JobStatusCompleted
		}
	}
	return models.JobStatusIdle
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

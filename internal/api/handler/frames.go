package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/coordinator"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Frames is the single-frame inspection surface the handlers depend on.
type Frames interface {
	ExtractFrame(ctx context.Context, src string, ts float64) (*models.Frame, error)
	SaveCrop(ctx context.Context, athlete, src string, ts float64, box models.Box) (*models.SavedCrop, error)
	Calibrate(ctx context.Context, athlete, src string, ts, threshold float64) (*models.Calibration, error)
}

type frameRequest struct {
	Source    string  `json:"src" validate:"required,max=512"`
	Timestamp float64 `json:"ts"  validate:"gte=0"`
}

type boxRequest struct {
	X1 int `json:"x1" validate:"gte=0"`
	Y1 int `json:"y1" validate:"gte=0"`
	X2 int `json:"x2" validate:"gtfield=X1"`
	Y2 int `json:"y2" validate:"gtfield=Y1"`
}

type cropRequest struct {
	Source    string      `json:"src" validate:"required,max=512"`
	Timestamp float64     `json:"ts"  validate:"gte=0"`
	Box       *boxRequest `json:"box" validate:"required"`
}

type calibrateRequest struct {
	Source    string   `json:"src"       validate:"required,max=512"`
	Timestamp float64  `json:"ts"        validate:"gte=0"`
	Threshold *float64 `json:"threshold" validate:"omitempty,gte=0,lte=1"`
}

// NewExtractFrameHandler returns an http.HandlerFunc for POST /api/v1/frames.
// The answer lists every detected person so the operator can pick one to crop.
func NewExtractFrameHandler(f Frames) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req frameRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Source = strings.TrimSpace(req.Source)
		if err := validate.Struct(req); err != nil {
			validationFailed(w, err)
			return
		}

		frame, err := f.ExtractFrame(r.Context(), req.Source, req.Timestamp)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, frame)
	}
}

// NewSaveCropHandler returns an http.HandlerFunc for
// POST /api/v1/athletes/{name}/crops. The box is in source-frame pixels as
// returned in a frame's source_boxes.
func NewSaveCropHandler(f Frames) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := athleteParam(w, r)
		if !ok {
			return
		}
		var req cropRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Source = strings.TrimSpace(req.Source)
		if err := validate.Struct(req); err != nil {
			validationFailed(w, err)
			return
		}

		box := models.Box{X1: req.Box.X1, Y1: req.Box.Y1, X2: req.Box.X2, Y2: req.Box.Y2}
		saved, err := f.SaveCrop(r.Context(), name, req.Source, req.Timestamp, box)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, saved)
	}
}

// NewCalibrateHandler returns an http.HandlerFunc for
// POST /api/v1/athletes/{name}/calibrate. It runs ReID on one frame so the
// operator can tune the match threshold before a full analysis.
func NewCalibrateHandler(f Frames) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := athleteParam(w, r)
		if !ok {
			return
		}
		var req calibrateRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Source = strings.TrimSpace(req.Source)
		if err := validate.Struct(req); err != nil {
			validationFailed(w, err)
			return
		}
		threshold := coordinator.DefaultThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}

		cal, err := f.Calibrate(r.Context(), name, req.Source, req.Timestamp, threshold)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, cal)
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(dst); err != nil {
		badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}

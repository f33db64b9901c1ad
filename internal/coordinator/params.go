package coordinator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tercanobre/reidpanel/pkg/models"
)

// DefaultThreshold is the match threshold used when a request leaves it out.
const DefaultThreshold = 0.65

// Params is the typed start request of one job kind.
type Params interface {
	Kind() models.JobKind
}

// AnalysisParams starts a full-video scan that heat-maps one athlete.
type AnalysisParams struct {
	Athlete    string   `json:"athlete"     validate:"required,athlete"`
	Video      string   `json:"video"       validate:"required_without=YouTubeURL,max=512"`
	YouTubeURL string   `json:"youtube_url" validate:"omitempty,url"`
	Threshold  *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

func (AnalysisParams) Kind() models.JobKind { return models.KindAnalysis }

// CaptureParams starts automated reference crop capture for one athlete.
type CaptureParams struct {
	Athlete      string   `json:"athlete"             validate:"required,athlete"`
	Video        string   `json:"video"               validate:"required_without=YouTubeURL,max=512"`
	YouTubeURL   string   `json:"youtube_url"         validate:"omitempty,url"`
	Threshold    *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxCrops     int      `json:"max_crops"           validate:"omitempty,min=1,max=500"`
	StepSeconds  float64  `json:"step_seconds"        validate:"omitempty,gt=0,lte=60"`
	UniformColor string   `json:"uniform_color"       validate:"omitempty,max=32"`
}

func (CaptureParams) Kind() models.JobKind { return models.KindCapture }

// ScriptParams starts a background processing script, optionally over a
// dual-camera pair of videos.
type ScriptParams struct {
	Script     string  `json:"script"      validate:"required,scriptname"`
	Video      string  `json:"video"       validate:"omitempty,max=512"`
	DualCamera bool    `json:"dual_camera"`
	LeftVideo  string  `json:"left_video"  validate:"required_if=DualCamera true,max=512"`
	RightVideo string  `json:"right_video" validate:"required_if=DualCamera true,max=512"`
	Model      string  `json:"model"       validate:"omitempty,max=128"`
	Confidence float64 `json:"confidence"  validate:"omitempty,gt=0,lte=1"`
	OutputDir  string  `json:"output_dir"  validate:"omitempty,max=512"`
}

func (ScriptParams) Kind() models.JobKind { return models.KindScript }

var (
	athleteNameRe = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} _.\-]{0,63}$`)
	scriptNameRe  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-]{0,63}(\.py)?$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("athlete", func(fl validator.FieldLevel) bool {
		return athleteNameRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("scriptname", func(fl validator.FieldLevel) bool {
		return scriptNameRe.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(ScriptParams)
		if p.DualCamera && p.LeftVideo != "" && p.LeftVideo == p.RightVideo {
			sl.ReportError(p.RightVideo, "right_video", "RightVideo", "nefield", "left_video")
		}
	}, ScriptParams{})
	return v
}

// validateParams runs struct validation and converts failures into a
// *ValidationError keyed by JSON field name.
func validateParams(v *validator.Validate, p Params) error {
	if p == nil {
		return &ValidationError{Fields: map[string]string{"kind": "is required"}}
	}
	err := v.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"params": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "a video or a YouTube URL is required"
	case "required_if":
		return "is required for dual-camera capture"
	case "athlete":
		return "must be a name of letters, digits, spaces, dots, dashes or underscores"
	case "scriptname":
		return "must be a plain script name"
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "nefield":
		return "must differ from left_video"
	}
	return "failed " + fe.Tag() + " check"
}

// withDefaults fills omitted optional fields so the backend always receives
// an explicit threshold.
func withDefaults(p Params) Params {
	switch v := p.(type) {
	case AnalysisParams:
		v.Threshold = thresholdOrDefault(v.Threshold)
		return v
	case *AnalysisParams:
		out := *v
		out.Threshold = thresholdOrDefault(v.Threshold)
		return out
	case CaptureParams:
		v.Threshold = thresholdOrDefault(v.Threshold)
		return v
	case *CaptureParams:
		out := *v
		out.Threshold = thresholdOrDefault(v.Threshold)
		return out
	}
	return p
}

func thresholdOrDefault(t *float64) *float64 {
	if t != nil {
		return t
	}
	d := DefaultThreshold
	return &d
}

// athleteOf returns the athlete a job is about, if any.
func athleteOf(p Params) string {
	switch v := p.(type) {
	case AnalysisParams:
		return strings.TrimSpace(v.Athlete)
	case *AnalysisParams:
		return strings.TrimSpace(v.Athlete)
	case CaptureParams:
		return strings.TrimSpace(v.Athlete)
	case *CaptureParams:
		return strings.TrimSpace(v.Athlete)
	}
	return ""
}

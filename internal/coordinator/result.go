package coordinator

import (
	"math"
	"net/url"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tercanobre/reidpanel/pkg/models"
)

var printer = message.NewPrinter(language.English)

// ArtifactURL maps a backend artifact reference to the panel URL serving it.
func ArtifactURL(ref string) string {
	if ref == "" {
		return ""
	}
	return "/api/v1/artifacts/" + url.PathEscape(ref)
}

// RenderResult builds the result view of a completed job from its payload
// alone.
func RenderResult(snap *models.JobSnapshot) *models.AnalysisResult {
	c := snap.Counters
	r := &models.AnalysisResult{
		Matches:     c.Matches,
		Detections:  c.Detections,
		TotalFrames: c.TotalFrames,
		Saved:       c.Saved,
		Total:       c.Total,
	}
	if c.Detections > 0 {
		rate := int(math.Round(float64(c.Matches) / float64(c.Detections) * 100))
		r.MatchRate = &rate
	}
	if snap.Result != nil {
		r.HeatmapURL = ArtifactURL(snap.Result.Heatmap)
		r.CSVURL = ArtifactURL(snap.Result.CSV)
		r.Zones = renderZones(snap.Result.Zones)
	}
	return r
}

// renderZones flattens the occupancy grid row by row and flags the cell with
// the highest count. Ties keep the first cell; an empty grid has no dominant.
func renderZones(z *models.ZoneSummary) []models.Zone {
	if z == nil || len(z.Counts) == 0 {
		return nil
	}
	total := z.Total
	if total <= 0 {
		for _, row := range z.Counts {
			for _, n := range row {
				total += n
			}
		}
	}

	var zones []models.Zone
	best, bestCount := -1, 0
	for r, row := range z.Counts {
		for col, n := range row {
			zone := models.Zone{Row: r, Col: col, Count: n}
			if total > 0 {
				zone.Percent = int(math.Round(float64(n) / float64(total) * 100))
			}
			if n > bestCount {
				best, bestCount = len(zones), n
			}
			zones = append(zones, zone)
		}
	}
	if best >= 0 {
		zones[best].Dominant = true
	}
	return zones
}

// missingArtifact names the artifact a completed job of kind should have
// reported but did not, or "" when nothing is missing.
func missingArtifact(kind models.JobKind, snap *models.JobSnapshot) string {
	if kind != models.KindAnalysis {
		return ""
	}
	if snap.Result == nil || snap.Result.Heatmap == "" {
		return "heatmap"
	}
	return ""
}

// PhaseText renders the human progress line of a running job.
func PhaseText(kind models.JobKind, snap *models.JobSnapshot) string {
	c := snap.Counters
	switch snap.Status {
	case models.JobStatusStarting:
		if snap.Phase != "" {
			return snap.Phase
		}
		return "starting"
	case models.JobStatusRunning:
	default:
		return snap.Phase
	}

	switch kind {
	case models.KindAnalysis:
		if c.TotalFrames > 0 {
			return printer.Sprintf("frame %d of %d", c.Frame, c.TotalFrames)
		}
	case models.KindCapture:
		if c.Duration > 0 {
			return printer.Sprintf("analysing %ds / %ds, %d people evaluated", c.CurrentTS, c.Duration, c.Evaluated)
		}
	case models.KindScript:
		if c.ImagesNew > 0 || c.ImagesTotal > 0 {
			return printer.Sprintf("%d new images, %d total", c.ImagesNew, c.ImagesTotal)
		}
	}
	if snap.Phase != "" {
		return snap.Phase
	}
	return "running"
}

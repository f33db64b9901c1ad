package models

// ResultRefs are the artifact references a completed job reports.
type ResultRefs struct {
	Heatmap string       `json:"heatmap,omitempty"`
	CSV     string       `json:"csv,omitempty"`
	Zones   *ZoneSummary `json:"zones,omitempty"`
}

// ZoneSummary is the 3x3 field occupancy grid of an analysis result.
type ZoneSummary struct {
	Counts [][]int `json:"counts"`
	Total  int     `json:"total"`
}

// Zone is one rendered cell of the occupancy grid.
type Zone struct {
	Row      int  `json:"row"`
	Col      int  `json:"col"`
	Count    int  `json:"count"`
	Percent  int  `json:"percent"`
	Dominant bool `json:"dominant"`
}

// AnalysisResult is the rendered view of a completed job. It is derived from
// the terminal payload alone.
type AnalysisResult struct {
	Matches     int    `json:"matches"`
	Detections  int    `json:"detections"`
	TotalFrames int    `json:"total_frames"`
	MatchRate   *int   `json:"match_rate,omitempty"`
	HeatmapURL  string `json:"heatmap_url,omitempty"`
	CSVURL      string `json:"csv_url,omitempty"`
	Zones       []Zone `json:"zones,omitempty"`
	Saved       int    `json:"saved,omitempty"`
	Total       int    `json:"n_total,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

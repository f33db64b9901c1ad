package models

// Box is one detected person in a video frame, in pixels.
type Box struct {
	Index      int     `json:"i"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"conf,omitempty"`
}

// Valid reports whether the box has a positive area inside the frame origin.
func (b Box) Valid() bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 > b.X1 && b.Y2 > b.Y1
}

// Frame is one annotated video frame with its person detections. Boxes are
// scaled to Image; SourceBoxes are in the original frame and are what a crop
// request must send back.
type Frame struct {
	Source      string  `json:"source"`
	Timestamp   float64 `json:"ts"`
	Image       []byte  `json:"image"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Boxes       []Box   `json:"boxes"`
	SourceBoxes []Box   `json:"source_boxes"`
}

// SavedCrop is the backend acknowledgement of a manual reference crop.
type SavedCrop struct {
	Athlete string `json:"athlete"`
	File    string `json:"file"`
	Photos  int    `json:"photos"`
}

// Calibration is one single-frame ReID run at a given threshold. Matches
// counts the people at or above Threshold out of Total detected.
type Calibration struct {
	Athlete   string  `json:"athlete"`
	Source    string  `json:"source"`
	Timestamp float64 `json:"ts"`
	Threshold float64 `json:"threshold"`
	Matches   int     `json:"matches"`
	Total     int     `json:"total"`
	Image     []byte  `json:"image"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// Process is one background script tracked by the backend.
type Process struct {
	Script     string `json:"script"`
	PID        int    `json:"pid"`
	Running    bool   `json:"running"`
	ReturnCode *int   `json:"return_code"`
}

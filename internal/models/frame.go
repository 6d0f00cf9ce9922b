package models

import (
	"time"
)

// SourceMode identifies how a camera feeds a stream.
type SourceMode string

const (
	// SourceModeLocal is a capture device attached to this machine.
	SourceModeLocal SourceMode = "local"
	// SourceModeProxy is a remote capture process forwarding frames over a
	// persistent connection.
	SourceModeProxy SourceMode = "proxy"
)

// IsValid checks if the source mode is valid
func (m SourceMode) IsValid() bool {
	return m == SourceModeLocal || m == SourceModeProxy
}

// Frame is a single ingested image payload. The sequence number is assigned
// by the ingest link and is monotonically increasing per stream. A Frame is
// owned by the pipeline from ingest until it is broadcast or discarded and is
// never mutated after creation.
type Frame struct {
	StreamID   string
	Sequence   uint64
	Payload    []byte // encoded image (JPEG)
	Width      int
	Height     int
	CapturedAt time.Time // camera-side capture timestamp
	IngestedAt time.Time

	// OutOfOrder is set when the capture timestamp regressed relative to the
	// previous frame on the same link. Flagged, never rejected.
	OutOfOrder bool
}

// Detection is a single detection from the analysis service. Opaque to the
// relay beyond pass-through to viewers.
type Detection struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// AnnotatedFrame pairs a frame with its analysis results. Immutable once
// produced; shared read-only by the broadcast hub and every viewer session.
type AnnotatedFrame struct {
	Frame        *Frame
	Detections   []Detection
	Freshness    FreshnessResult
	InventoryID  string
	AnalysisTime time.Duration

	// Analyzed is false when the analysis call failed or timed out and the
	// frame was forwarded as a raw passthrough.
	Analyzed bool
}

// Analysis is the response of the external detection/freshness function.
type Analysis struct {
	InventoryID string      `json:"inventory_id"`
	Detections  []Detection `json:"detections"`
	Score       float64     `json:"score"`
}

package models

import (
	"encoding/json"
	"time"
)

// Viewer message types delivered as {type, data} envelopes.
const (
	EventInventoryAdded    = "inventory_added"
	EventInventoryUpdated  = "inventory_updated"
	EventInventoryDeleted  = "inventory_deleted"
	EventFreshnessUpdated  = "freshness_updated"
	EventFreshnessAlert    = "freshness_alert"
	EventNewPurchase       = "new_purchase"
	EventNewRecommendation = "new_recommendation"
	EventFrame             = "frame"
)

// InventoryUpdateEvent is emitted once per processed frame that materially
// changes the freshness state of an inventory target. Consumed exactly once
// by the inventory update sink.
type InventoryUpdateEvent struct {
	InventoryID   string          `json:"inventory_id"`
	PreviousScore float64         `json:"previous_score"`
	NewScore      float64         `json:"new_score"`
	NewStatus     FreshnessStatus `json:"new_status"`
	NewDiscount   int             `json:"new_discount"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ViewerMessage is the envelope for everything sent to a viewer link.
type ViewerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FramePayload is the data field of a frame message sent to admin viewers.
// Image bytes are base64 in JSON.
type FramePayload struct {
	StreamID     string          `json:"stream_id"`
	Sequence     uint64          `json:"sequence"`
	CapturedAt   time.Time       `json:"captured_at"`
	Image        []byte          `json:"image"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	Detections   []Detection     `json:"detections"`
	Freshness    FreshnessResult `json:"freshness"`
	InventoryID  string          `json:"inventory_id,omitempty"`
	Analyzed     bool            `json:"analyzed"`
	AnalysisTime string          `json:"analysis_time,omitempty"`
}

// IngestMessage is a single inbound message on the camera ingest link.
type IngestMessage struct {
	Frame     []byte    `json:"frame"` // encoded image, base64 in JSON
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode,omitempty"`
}

// ControlMessage is an inbound control message from a viewer link. Handled
// independently of the frame fan-out path.
type ControlMessage struct {
	Action           string `json:"action"`
	RecommendationID string `json:"recommendation_id,omitempty"`
}

// Viewer control actions.
const (
	ActionGetStats           = "get_stats"
	ActionViewRecommendation = "view_recommendation"
)

// RecommendationViewed is forwarded to the backend when a customer
// acknowledges a recommendation.
type RecommendationViewed struct {
	CustomerID       string    `json:"customer_id"`
	RecommendationID string    `json:"recommendation_id"`
	ViewedAt         time.Time `json:"viewed_at"`
}

// BackendEvent is a backend-originated notification injected into the hub,
// as published on the backend events subjects.
type BackendEvent struct {
	Type       string          `json:"type"`
	CustomerID string          `json:"customer_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}

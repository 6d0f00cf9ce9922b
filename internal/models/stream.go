package models

import "time"

// StreamRequest for API
type StreamRequest struct {
	StreamID    string     `json:"stream_id" binding:"required"`
	InventoryID string     `json:"inventory_id" binding:"required"`
	Mode        SourceMode `json:"mode" binding:"required"`
	URL         string     `json:"url,omitempty"` // device index or RTSP URL, local mode only
}

// StreamResponse for API
type StreamResponse struct {
	StreamID    string    `json:"stream_id"`
	InventoryID string    `json:"inventory_id"`
	Mode        string    `json:"mode"`
	URL         string    `json:"url,omitempty"`
	State       string    `json:"state"`
	Stale       bool      `json:"stale"`
	CreatedAt   time.Time `json:"created_at"`

	Link     interface{} `json:"link"`
	Pipeline interface{} `json:"pipeline"`
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"freshtrack-relay-go/internal/services/analysis"
	"freshtrack-relay-go/internal/services/messaging"
)

type HealthHandler struct {
	relayID   string
	messaging *messaging.Service
	analyzer  *analysis.Service
}

func NewHealthHandler(relayID string, msg *messaging.Service, analyzer *analysis.Service) *HealthHandler {
	return &HealthHandler{
		relayID:   relayID,
		messaging: msg,
		analyzer:  analyzer,
	}
}

type HealthResponse struct {
	Status          string `json:"status"`
	RelayID         string `json:"relay_id"`
	NatsConnected   bool   `json:"nats_connected"`
	AnalyzerHealthy bool   `json:"analyzer_healthy"`
}

type RelayInfoResponse struct {
	RelayID      string   `json:"relay_id"`
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// HealthCheck reports liveness plus the state of the two external
// dependencies. Degraded dependencies do not fail the check; the relay
// keeps serving frames without them.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:          "healthy",
		RelayID:         h.relayID,
		NatsConnected:   h.messaging.IsConnected(),
		AnalyzerHealthy: h.analyzer.IsHealthy(),
	})
}

func (h *HealthHandler) RelayInfo(c *gin.Context) {
	c.JSON(http.StatusOK, RelayInfoResponse{
		RelayID: h.relayID,
		Status:  "running",
		Version: "1.0.0",
		Capabilities: []string{
			"local_capture",
			"proxy_ingest",
			"freshness_analysis",
			"frame_broadcast",
		},
	})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/stream"
)

type StreamHandler struct {
	manager *stream.Manager
}

func NewStreamHandler(manager *stream.Manager) *StreamHandler {
	return &StreamHandler{
		manager: manager,
	}
}

// AddStream registers a stream and starts its capture loop
func (h *StreamHandler) AddStream(c *gin.Context) {
	var req models.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.manager.AddStream(req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, stream.ErrStreamExists):
			status = http.StatusConflict
		case errors.Is(err, stream.ErrInvalidMode), errors.Is(err, stream.ErrTooManyStreams):
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Str("stream_id", req.StreamID).Msg("Failed to add stream")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Info().
		Str("stream_id", st.ID).
		Str("inventory_id", st.InventoryID).
		Str("mode", string(st.Mode)).
		Msg("Stream added successfully")

	resp, err := h.manager.Status(st.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stream added but failed to get details"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RemoveStream stops a stream and drops all its state
func (h *StreamHandler) RemoveStream(c *gin.Context) {
	streamID := c.Param("stream_id")

	if err := h.manager.RemoveStream(streamID); err != nil {
		if errors.Is(err, stream.ErrStreamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
			return
		}
		log.Error().Err(err).Str("stream_id", streamID).Msg("Failed to remove stream")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("stream_id", streamID).Msg("Stream removed successfully")
	c.JSON(http.StatusOK, gin.H{"message": "Stream removed successfully"})
}

func (h *StreamHandler) GetStreamStatus(c *gin.Context) {
	streamID := c.Param("stream_id")

	resp, err := h.manager.Status(streamID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams := h.manager.ListStreams()
	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"count":   len(streams),
	})
}

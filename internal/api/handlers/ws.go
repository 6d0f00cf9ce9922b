package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/hub"
	"freshtrack-relay-go/internal/services/stream"
)

type WSHandler struct {
	manager  *stream.Manager
	hub      *hub.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *stream.Manager, hubSvc *hub.Service) *WSHandler {
	return &WSHandler{
		manager: manager,
		hub:     hubSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cameras and dashboards connect from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Ingest accepts a camera connection and hands it to the stream's source.
// The mode flag distinguishes local-source and proxy-source roles; the wire
// contract is the same for both. The source owns the connection from that
// point; this handler returns immediately after the handoff.
func (h *WSHandler) Ingest(c *gin.Context) {
	streamID := c.Param("stream_id")
	inventoryID := c.Query("inventory_id")

	if mode := c.Query("mode"); mode != "" && !models.SourceMode(mode).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown ingest mode"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("stream_id", streamID).Msg("Ingest upgrade failed")
		return
	}

	if err := h.manager.AttachProxy(streamID, inventoryID, conn); err != nil {
		log.Error().Err(err).Str("stream_id", streamID).Msg("Failed to attach ingest connection")
		conn.Close()
		return
	}

	log.Info().Str("stream_id", streamID).Msg("Ingest camera connected")
}

// Admin accepts a dashboard viewer connection. Admin viewers receive
// annotated frames plus all events, and may send control messages.
func (h *WSHandler) Admin(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Admin upgrade failed")
		return
	}

	session := h.hub.AddAdmin(conn)
	h.readLoop(conn, session)
}

// Customer accepts a storefront viewer connection, scoped to one
// customer ID for targeted notifications.
func (h *WSHandler) Customer(c *gin.Context) {
	customerID := c.Param("customer_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("customer_id", customerID).Msg("Customer upgrade failed")
		return
	}

	session := h.hub.AddCustomer(customerID, conn)
	h.readLoop(conn, session)
}

// readLoop feeds inbound control messages to the hub until the peer
// disconnects, then removes the session.
func (h *WSHandler) readLoop(conn *websocket.Conn, session *hub.Session) {
	defer h.hub.Remove(session)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session_id", session.ID).Msg("Viewer disconnected")
			return
		}
		h.hub.HandleControl(session, data)
	}
}

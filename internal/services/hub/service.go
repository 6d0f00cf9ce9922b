package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/logging"
	"freshtrack-relay-go/internal/models"
)

// Service is the broadcast hub. It owns the viewer registry and fans
// annotated frames and events out to every connected viewer link. Admin
// viewers receive every annotated frame and every structured event; customer
// viewers receive only notification events targeted at their identity, never
// raw frames. Delivery to one viewer never blocks delivery to another.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu        sync.RWMutex
	admins    map[string]*Session
	customers map[string]map[string]*Session // customer_id -> session_id -> session
	closed    bool

	framesBroadcast atomic.Uint64
	eventsBroadcast atomic.Uint64

	// statsFn serves get_stats control messages; wired by the container.
	statsFn func() interface{}

	// recommendationViewed forwards customer acknowledgements to the backend.
	recommendationViewed func(models.RecommendationViewed)
}

// HubStats aggregates per-session and global counters.
type HubStats struct {
	AdminViewers    int            `json:"admin_viewers"`
	CustomerViewers int            `json:"customer_viewers"`
	FramesBroadcast uint64         `json:"frames_broadcast"`
	EventsBroadcast uint64         `json:"events_broadcast"`
	Sessions        []SessionStats `json:"sessions"`
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logging.NewServiceLogger(cfg, "hub"),
		admins:    make(map[string]*Session),
		customers: make(map[string]map[string]*Session),
	}
}

// SetStatsProvider wires the aggregate stats snapshot used for get_stats.
func (h *Service) SetStatsProvider(fn func() interface{}) {
	h.statsFn = fn
}

// SetRecommendationViewedHandler wires the backend forwarding for
// view_recommendation acknowledgements.
func (h *Service) SetRecommendationViewedHandler(fn func(models.RecommendationViewed)) {
	h.recommendationViewed = fn
}

// AddAdmin registers an admin viewer link and starts its writer.
func (h *Service) AddAdmin(conn MessageWriter) *Session {
	s := newSession(RoleAdmin, "", conn, h.cfg.ViewerQueueSize, h.cfg.ViewerWriteTimeout, h.logger)
	s.logger = logging.WithSession(h.logger, s.ID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return s
	}
	h.admins[s.ID] = s
	h.mu.Unlock()

	go s.writeLoop()

	h.logger.Info().Str("session_id", s.ID).Msg("Admin viewer connected")
	return s
}

// AddCustomer registers a customer viewer link scoped to an identity.
func (h *Service) AddCustomer(customerID string, conn MessageWriter) *Session {
	s := newSession(RoleCustomer, customerID, conn, h.cfg.ViewerQueueSize, h.cfg.ViewerWriteTimeout, h.logger)
	s.logger = logging.WithSession(h.logger, s.ID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return s
	}
	sessions, ok := h.customers[customerID]
	if !ok {
		sessions = make(map[string]*Session)
		h.customers[customerID] = sessions
	}
	sessions[s.ID] = s
	h.mu.Unlock()

	go s.writeLoop()

	h.logger.Info().
		Str("session_id", s.ID).
		Str("customer_id", customerID).
		Msg("Customer viewer connected")
	return s
}

// Remove drops a session from the registry and releases it. Viewer
// disconnect is not an error for the hub or the pipeline.
func (h *Service) Remove(s *Session) {
	h.mu.Lock()
	switch s.Role {
	case RoleAdmin:
		delete(h.admins, s.ID)
	case RoleCustomer:
		if sessions, ok := h.customers[s.CustomerID]; ok {
			delete(sessions, s.ID)
			if len(sessions) == 0 {
				delete(h.customers, s.CustomerID)
			}
		}
	}
	h.mu.Unlock()

	s.Close()

	h.logger.Info().
		Str("session_id", s.ID).
		Str("role", string(s.Role)).
		Msg("Viewer disconnected")
}

// BroadcastFrame fans an annotated frame out to every admin viewer. The
// frame is marshaled once and shared read-only across sessions.
func (h *Service) BroadcastFrame(af *models.AnnotatedFrame) {
	payload := models.FramePayload{
		StreamID:    af.Frame.StreamID,
		Sequence:    af.Frame.Sequence,
		CapturedAt:  af.Frame.CapturedAt,
		Image:       af.Frame.Payload,
		Width:       af.Frame.Width,
		Height:      af.Frame.Height,
		Detections:  af.Detections,
		Freshness:   af.Freshness,
		InventoryID: af.InventoryID,
		Analyzed:    af.Analyzed,
	}
	if af.AnalysisTime > 0 {
		payload.AnalysisTime = af.AnalysisTime.String()
	}

	msg, err := json.Marshal(models.ViewerMessage{Type: models.EventFrame, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode frame message")
		return
	}

	h.framesBroadcast.Add(1)

	h.mu.RLock()
	for _, s := range h.admins {
		s.enqueue(msg)
	}
	h.mu.RUnlock()
}

// BroadcastEvent fans a typed event out to every admin viewer.
func (h *Service) BroadcastEvent(eventType string, data interface{}) {
	msg, err := json.Marshal(models.ViewerMessage{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("Failed to encode event message")
		return
	}

	h.eventsBroadcast.Add(1)

	h.mu.RLock()
	for _, s := range h.admins {
		s.enqueue(msg)
	}
	h.mu.RUnlock()
}

// NotifyCustomer delivers a targeted notification to every session of one
// customer identity.
func (h *Service) NotifyCustomer(customerID, eventType string, data interface{}) {
	msg, err := json.Marshal(models.ViewerMessage{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("Failed to encode notification")
		return
	}

	h.eventsBroadcast.Add(1)

	h.mu.RLock()
	for _, s := range h.customers[customerID] {
		s.enqueue(msg)
	}
	h.mu.RUnlock()
}

// InjectBackendEvent routes a backend-originated notification: customer
// recommendations to the targeted customer, everything else to admins.
func (h *Service) InjectBackendEvent(ev models.BackendEvent) {
	if ev.Type == models.EventNewRecommendation && ev.CustomerID != "" {
		h.NotifyCustomer(ev.CustomerID, ev.Type, ev.Data)
		return
	}
	h.BroadcastEvent(ev.Type, ev.Data)
}

// HandleControl processes one inbound control message from a viewer.
// Control handling is independent of the frame fan-out path and carries no
// ordering guarantee relative to frame delivery.
func (h *Service) HandleControl(s *Session, raw []byte) {
	s.Touch()

	var ctrl models.ControlMessage
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		h.logger.Debug().Str("session_id", s.ID).Err(err).Msg("Ignoring malformed control message")
		return
	}

	switch ctrl.Action {
	case models.ActionGetStats:
		var data interface{} = h.Stats()
		if h.statsFn != nil {
			data = h.statsFn()
		}
		msg, err := json.Marshal(models.ViewerMessage{Type: "stats", Data: data})
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode stats reply")
			return
		}
		s.enqueue(msg)

	case models.ActionViewRecommendation:
		if s.Role != RoleCustomer || ctrl.RecommendationID == "" {
			return
		}
		if h.recommendationViewed != nil {
			h.recommendationViewed(models.RecommendationViewed{
				CustomerID:       s.CustomerID,
				RecommendationID: ctrl.RecommendationID,
				ViewedAt:         time.Now(),
			})
		}

	default:
		h.logger.Debug().
			Str("session_id", s.ID).
			Str("action", ctrl.Action).
			Msg("Unknown control action")
	}
}

func (h *Service) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		AdminViewers:    len(h.admins),
		FramesBroadcast: h.framesBroadcast.Load(),
		EventsBroadcast: h.eventsBroadcast.Load(),
	}

	for _, s := range h.admins {
		stats.Sessions = append(stats.Sessions, s.Stats())
	}
	for _, sessions := range h.customers {
		stats.CustomerViewers += len(sessions)
		for _, s := range sessions {
			stats.Sessions = append(stats.Sessions, s.Stats())
		}
	}

	return stats
}

// Shutdown closes every viewer session.
func (h *Service) Shutdown() {
	h.mu.Lock()
	h.closed = true
	admins := h.admins
	customers := h.customers
	h.admins = make(map[string]*Session)
	h.customers = make(map[string]map[string]*Session)
	h.mu.Unlock()

	for _, s := range admins {
		s.Close()
	}
	for _, sessions := range customers {
		for _, s := range sessions {
			s.Close()
		}
	}
}

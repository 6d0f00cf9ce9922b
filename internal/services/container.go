package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/analysis"
	"freshtrack-relay-go/internal/services/hub"
	"freshtrack-relay-go/internal/services/inventory"
	"freshtrack-relay-go/internal/services/messaging"
	"freshtrack-relay-go/internal/services/stream"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config        *config.Config
	Messaging     *messaging.Service
	Analyzer      *analysis.Service
	Sink          *inventory.NATSSink
	Hub           *hub.Service
	StreamManager *stream.Manager

	backendSub *nats.Subscription
	startedAt  time.Time
}

// NewServiceContainer creates a new service container
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	msg, err := messaging.NewService(cfg)
	if err != nil {
		return nil, err
	}

	analyzer := analysis.NewService(cfg, msg)
	sink := inventory.NewNATSSink(cfg, msg)
	hubSvc := hub.NewService(cfg)
	manager := stream.NewManager(cfg, analyzer, sink, hubSvc)

	sc := &ServiceContainer{
		Config:        cfg,
		Messaging:     msg,
		Analyzer:      analyzer,
		Sink:          sink,
		Hub:           hubSvc,
		StreamManager: manager,
		startedAt:     time.Now(),
	}

	hubSvc.SetStatsProvider(sc.Stats)
	hubSvc.SetRecommendationViewedHandler(func(viewed models.RecommendationViewed) {
		if err := msg.Publish(cfg.RecommendationSubject, viewed); err != nil {
			log.Warn().Err(err).Msg("Failed to forward recommendation view")
		}
	})

	// Backend-originated notifications (inventory CRUD, purchases,
	// recommendations) flow into the hub untouched.
	sub, err := msg.Subscribe(cfg.BackendEventsSubject, func(data []byte) {
		var ev models.BackendEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed backend event")
			return
		}
		hubSvc.InjectBackendEvent(ev)
	})
	if err != nil {
		return nil, err
	}
	sc.backendSub = sub

	return sc, nil
}

// Stats aggregates relay-wide statistics; also served for get_stats
// control messages.
func (sc *ServiceContainer) Stats() interface{} {
	return map[string]interface{}{
		"relay_id":       sc.Config.RelayID,
		"uptime_seconds": int64(time.Since(sc.startedAt).Seconds()),
		"nats_connected": sc.Messaging.IsConnected(),
		"streams":        sc.StreamManager.ListStreams(),
		"hub":            sc.Hub.Stats(),
	}
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.backendSub != nil {
		if err := sc.backendSub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("Failed to unsubscribe backend events")
		}
	}

	if sc.StreamManager != nil {
		if err := sc.StreamManager.Shutdown(ctx); err != nil {
			return err
		}
	}

	if sc.Hub != nil {
		sc.Hub.Shutdown()
	}

	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}

package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/logging"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/messaging"
)

// Sink receives freshness/discount events derived from processed frames.
// The backend behind it owns persistence and downstream notification fan-out;
// the relay treats every submit error as non-fatal.
type Sink interface {
	Submit(ctx context.Context, event models.InventoryUpdateEvent) error

	// SubmitAlert carries critical/expired transitions on a dedicated
	// subject so the backend can escalate without filtering the update feed.
	SubmitAlert(ctx context.Context, event models.InventoryUpdateEvent) error
}

// NATSSink publishes inventory update events to the backend over NATS.
type NATSSink struct {
	msg          *messaging.Service
	subject      string
	alertSubject string
	logger       zerolog.Logger
}

func NewNATSSink(cfg *config.Config, msg *messaging.Service) *NATSSink {
	return &NATSSink{
		msg:          msg,
		subject:      cfg.InventoryUpdateSubject,
		alertSubject: cfg.FreshnessAlertSubject,
		logger:       logging.NewServiceLogger(cfg, "inventory-sink"),
	}
}

func (s *NATSSink) Submit(ctx context.Context, event models.InventoryUpdateEvent) error {
	if err := s.msg.Publish(s.subject, event); err != nil {
		return fmt.Errorf("publish inventory update: %w", err)
	}

	s.logger.Debug().
		Str("inventory_id", event.InventoryID).
		Float64("new_score", event.NewScore).
		Str("new_status", event.NewStatus.String()).
		Int("new_discount", event.NewDiscount).
		Msg("Inventory update submitted")

	return nil
}

func (s *NATSSink) SubmitAlert(ctx context.Context, event models.InventoryUpdateEvent) error {
	if err := s.msg.Publish(s.alertSubject, event); err != nil {
		return fmt.Errorf("publish freshness alert: %w", err)
	}

	s.logger.Info().
		Str("inventory_id", event.InventoryID).
		Float64("new_score", event.NewScore).
		Str("new_status", event.NewStatus.String()).
		Msg("Freshness alert published")

	return nil
}

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/logging"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/messaging"
)

// Analyzer is the detection/freshness function consumed by the pipeline.
// May be slow or blocking; calls are bounded by ctx.
type Analyzer interface {
	Analyze(ctx context.Context, frame *models.Frame) (*models.Analysis, error)
}

// Service reaches the external freshness model over NATS request-reply.
type Service struct {
	msg     *messaging.Service
	subject string
	healthy atomic.Bool
	logger  zerolog.Logger
}

type analyzeRequest struct {
	StreamID   string    `json:"stream_id"`
	Sequence   uint64    `json:"sequence"`
	Image      []byte    `json:"image"` // base64 in JSON
	CapturedAt time.Time `json:"captured_at"`
}

func NewService(cfg *config.Config, msg *messaging.Service) *Service {
	s := &Service{
		msg:     msg,
		subject: cfg.AnalyzeSubject,
		logger:  logging.NewServiceLogger(cfg, "analysis"),
	}

	s.logger.Info().Str("subject", s.subject).Msg("Freshness analysis client initialized")
	return s
}

func (s *Service) Analyze(ctx context.Context, frame *models.Frame) (*models.Analysis, error) {
	req := analyzeRequest{
		StreamID:   frame.StreamID,
		Sequence:   frame.Sequence,
		Image:      frame.Payload,
		CapturedAt: frame.CapturedAt,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	reply, err := s.msg.Request(ctx, s.subject, data)
	if err != nil {
		s.healthy.Store(false)
		return nil, fmt.Errorf("freshness analysis request: %w", err)
	}

	var result models.Analysis
	if err := json.Unmarshal(reply, &result); err != nil {
		s.healthy.Store(false)
		return nil, fmt.Errorf("decode analyze reply: %w", err)
	}

	s.healthy.Store(true)
	return &result, nil
}

func (s *Service) IsHealthy() bool {
	return s.healthy.Load()
}

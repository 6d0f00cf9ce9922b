package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"freshtrack-relay-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("relay_id", cfg.RelayID).Str("service", service).Logger()
}

func WithStream(base zerolog.Logger, streamID string) zerolog.Logger {
	return base.With().Str("stream_id", streamID).Logger()
}

func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str("session_id", sessionID).Logger()
}

package ingest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
)

// State of the reconnection manager's link supervision.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
)

// ReconnectionManager supervises the CameraSource↔Link edge. On link loss it
// retries with jittered exponential backoff, bounded above but never giving
// up; these are long-lived field devices. While down, the pipeline and hub
// keep operating on previously delivered frames and no frames are
// synthesized. Sequence numbering resumes from the next value on reconnect;
// gaps are expected downstream.
type ReconnectionManager struct {
	source CameraSource
	link   *Link
	cfg    *config.Config
	logger zerolog.Logger

	retryNow chan struct{}

	mu        sync.RWMutex
	state     State
	attempts  int
	lastDelay time.Duration
}

func NewReconnectionManager(source CameraSource, link *Link, cfg *config.Config, logger zerolog.Logger) *ReconnectionManager {
	return &ReconnectionManager{
		source:   source,
		link:     link,
		cfg:      cfg,
		logger:   logger,
		state:    StateDisconnected,
		retryNow: make(chan struct{}, 1),
	}
}

// Run drives the connect/read/backoff loop until ctx is canceled. The only
// long-lived background activity in the ingest layer.
func (m *ReconnectionManager) Run(ctx context.Context) {
	defer m.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		if err := m.source.Open(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return
			}
			m.logger.Warn().Err(err).Msg("Source connect failed")
			if !m.backoff(ctx) {
				return
			}
			continue
		}

		m.setState(StateConnected)
		m.resetBackoff()

		err := m.readLoop(ctx)
		m.setState(StateDisconnected)

		if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
			return
		}

		m.logger.Warn().Err(err).Msg("Source link lost, scheduling reconnect")
		if !m.backoff(ctx) {
			return
		}
	}
}

func (m *ReconnectionManager) readLoop(ctx context.Context) error {
	for {
		payload, capturedAt, err := m.source.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedPayload) {
				m.link.CountDecodeError()
				continue
			}
			return err
		}

		m.link.Ingest(payload, capturedAt)
	}
}

// backoff sleeps for the next retry delay. Returns false when ctx ended.
func (m *ReconnectionManager) backoff(ctx context.Context) bool {
	m.setState(StateBackoff)

	m.mu.Lock()
	m.attempts++
	delay := m.delayFor(m.attempts)
	m.lastDelay = delay
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Backing off before reconnect")

	select {
	case <-ctx.Done():
		return false
	case <-m.retryNow:
		return true
	case <-time.After(delay):
		return true
	}
}

// RetryNow cuts short any pending backoff delay. Called when a replacement
// camera connection arrives so it does not wait out the previous failure's
// schedule. Safe to call from any goroutine; a no-op when nothing is waiting.
func (m *ReconnectionManager) RetryNow() {
	select {
	case m.retryNow <- struct{}{}:
	default:
	}
}

// delayFor computes the jittered exponential delay for the given attempt,
// clamped between the configured min and max.
func (m *ReconnectionManager) delayFor(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * time.Second

	if base < m.cfg.ReconnectBackoffMin {
		base = m.cfg.ReconnectBackoffMin
	}
	if base > m.cfg.ReconnectBackoffMax {
		base = m.cfg.ReconnectBackoffMax
	}

	jitterPct := float64(m.cfg.ReconnectJitterPct) / 100.0
	jitter := time.Duration(float64(base) * jitterPct * (rand.Float64()*2 - 1))

	delay := base + jitter
	if delay < 0 {
		delay = m.cfg.ReconnectBackoffMin
	}
	return delay
}

func (m *ReconnectionManager) resetBackoff() {
	m.mu.Lock()
	m.attempts = 0
	m.lastDelay = 0
	m.mu.Unlock()
}

func (m *ReconnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *ReconnectionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the consecutive failure count since the last successful
// connection.
func (m *ReconnectionManager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

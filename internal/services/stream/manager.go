package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/logging"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/analysis"
	"freshtrack-relay-go/internal/services/hub"
	"freshtrack-relay-go/internal/services/ingest"
	"freshtrack-relay-go/internal/services/inventory"
	"freshtrack-relay-go/internal/services/pipeline"
)

var (
	ErrStreamExists   = errors.New("stream already exists")
	ErrStreamNotFound = errors.New("stream not found")
	ErrInvalidMode    = errors.New("invalid source mode")
	ErrTooManyStreams = errors.New("maximum number of streams reached")
)

// Stream is one camera stream with its ingest link, supervision and
// processing pipeline.
type Stream struct {
	ID          string
	InventoryID string
	Mode        models.SourceMode
	URL         string
	CreatedAt   time.Time

	source ingest.CameraSource
	link   *ingest.Link
	reconn *ingest.ReconnectionManager
	pipe   *pipeline.Pipeline
	cancel context.CancelFunc
}

// Manager owns the set of active streams and assembles the per-stream
// pipeline: source → reconnection manager → link → processing → hub.
type Manager struct {
	cfg      *config.Config
	analyzer analysis.Analyzer
	sink     inventory.Sink
	hub      *hub.Service
	logger   zerolog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg *config.Config, analyzer analysis.Analyzer, sink inventory.Sink, hubSvc *hub.Service) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		analyzer: analyzer,
		sink:     sink,
		hub:      hubSvc,
		logger:   logging.NewServiceLogger(cfg, "stream-manager"),
		streams:  make(map[string]*Stream),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddStream registers and starts a stream. Local streams open the capture
// device immediately (supervised); proxy streams wait for the remote camera
// to connect.
func (m *Manager) AddStream(req models.StreamRequest) (*Stream, error) {
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.Mode == models.SourceModeLocal && req.URL == "" {
		return nil, fmt.Errorf("%w: local stream %s requires a capture URL", ErrInvalidMode, req.StreamID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[req.StreamID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, req.StreamID)
	}
	if len(m.streams) >= m.cfg.MaxStreams {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyStreams, m.cfg.MaxStreams)
	}

	logger := logging.WithStream(m.logger, req.StreamID)

	var source ingest.CameraSource
	switch req.Mode {
	case models.SourceModeLocal:
		source = ingest.NewDeviceSource(req.StreamID, req.URL, m.cfg, logger)
	case models.SourceModeProxy:
		source = ingest.NewProxySource(req.StreamID, m.cfg.IngestReadTimeout, logger)
	}

	link := ingest.NewLink(req.StreamID, req.Mode, m.cfg.FrameBufferSize, m.cfg.FPSWindowSize, logger)
	reconn := ingest.NewReconnectionManager(source, link, m.cfg, logger)
	pipe := pipeline.New(req.StreamID, req.InventoryID, m.analyzer, m.sink, m.hub, m.cfg, logger)

	ctx, cancel := context.WithCancel(m.ctx)

	s := &Stream{
		ID:          req.StreamID,
		InventoryID: req.InventoryID,
		Mode:        req.Mode,
		URL:         req.URL,
		CreatedAt:   time.Now(),
		source:      source,
		link:        link,
		reconn:      reconn,
		pipe:        pipe,
		cancel:      cancel,
	}
	m.streams[req.StreamID] = s

	go reconn.Run(ctx)
	go pipe.Run(ctx, link.Frames())

	logger.Info().
		Str("mode", string(req.Mode)).
		Str("inventory_id", req.InventoryID).
		Msg("Stream started")

	return s, nil
}

// RemoveStream stops a stream and releases its source promptly.
func (m *Manager) RemoveStream(streamID string) error {
	m.mu.Lock()
	s, exists := m.streams[streamID]
	if exists {
		delete(m.streams, streamID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}

	s.cancel()
	s.source.Close()

	m.logger.Info().Str("stream_id", streamID).Msg("Stream removed")
	return nil
}

// AttachProxy hands an accepted camera connection to the stream's proxy
// source, registering the stream on first connect. A second connection for
// the same stream supersedes the first.
func (m *Manager) AttachProxy(streamID, inventoryID string, conn ingest.MessageReader) error {
	m.mu.RLock()
	s, exists := m.streams[streamID]
	m.mu.RUnlock()

	if !exists {
		var err error
		s, err = m.AddStream(models.StreamRequest{
			StreamID:    streamID,
			InventoryID: inventoryID,
			Mode:        models.SourceModeProxy,
		})
		if errors.Is(err, ErrStreamExists) {
			// Another connection registered the stream first; attach to it.
			s, exists = m.GetStream(streamID)
			if !exists {
				return fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
			}
		} else if err != nil {
			return err
		}
	}

	ps, ok := s.source.(*ingest.ProxySource)
	if !ok {
		return fmt.Errorf("stream %s is not a proxy stream", streamID)
	}

	ps.Attach(conn)
	s.reconn.RetryNow()
	return nil
}

func (m *Manager) GetStream(streamID string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[streamID]
	return s, ok
}

// ListStreams returns API responses for every active stream.
func (m *Manager) ListStreams() []models.StreamResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.StreamResponse, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, m.response(s))
	}
	return out
}

// Status returns the API response for one stream.
func (m *Manager) Status(streamID string) (models.StreamResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.streams[streamID]
	if !ok {
		return models.StreamResponse{}, fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}
	return m.response(s), nil
}

func (m *Manager) response(s *Stream) models.StreamResponse {
	return models.StreamResponse{
		StreamID:    s.ID,
		InventoryID: s.InventoryID,
		Mode:        string(s.Mode),
		URL:         s.URL,
		State:       string(s.reconn.State()),
		Stale:       s.link.Stale(m.cfg.FrameStaleThreshold),
		CreatedAt:   s.CreatedAt,
		Link:        s.link.Stats(),
		Pipeline:    s.pipe.Stats(),
	}
}

// Shutdown stops every stream.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*Stream)
	m.mu.Unlock()

	for _, s := range streams {
		s.source.Close()
	}

	m.logger.Info().Int("streams", len(streams)).Msg("Stream manager shut down")
	return nil
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/models"
)

var (
	// ErrMalformedPayload marks a frame that could not be decoded. The link
	// stays up; the frame is dropped and counted.
	ErrMalformedPayload = errors.New("malformed frame payload")

	// ErrSourceClosed is returned after Close.
	ErrSourceClosed = errors.New("camera source closed")

	errNotConnected = errors.New("source not connected")
)

// CameraSource produces encoded frames for one logical stream. The two
// implementations are a locally attached capture device and a remote proxy
// process feeding an accepted connection; the ingest link treats both
// identically.
type CameraSource interface {
	// Open establishes the source. Passive sources block until a connection
	// is available or ctx is done.
	Open(ctx context.Context) error

	// Read returns the next encoded frame and its capture timestamp. A
	// returned ErrMalformedPayload is recoverable; any other error means the
	// link is down.
	Read(ctx context.Context) (payload []byte, capturedAt time.Time, err error)

	Close() error
	Mode() models.SourceMode
}

// MessageReader is the inbound half of an accepted camera connection.
// Satisfied by *websocket.Conn; tests substitute their own.
type MessageReader interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// ProxySource is the passive end of a remote camera proxy. Accepted
// websocket connections are handed in via Attach; a new connection for the
// same stream supersedes the previous one.
type ProxySource struct {
	streamID    string
	readTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	conn   MessageReader
	closed bool

	pending chan MessageReader
}

func NewProxySource(streamID string, readTimeout time.Duration, logger zerolog.Logger) *ProxySource {
	return &ProxySource{
		streamID:    streamID,
		readTimeout: readTimeout,
		logger:      logger,
		pending:     make(chan MessageReader, 1),
	}
}

// Attach hands an accepted connection to the source. Any connection already
// serving the stream is closed and superseded.
func (s *ProxySource) Attach(conn MessageReader) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	old := s.conn
	s.conn = nil
	s.mu.Unlock()

	if old != nil {
		s.logger.Info().Str("stream_id", s.streamID).Msg("New source connection supersedes previous one")
		old.Close()
	}

	// Drop a queued connection that was never consumed
	select {
	case stale := <-s.pending:
		stale.Close()
	default:
	}

	s.pending <- conn
}

func (s *ProxySource) Open(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case conn, ok := <-s.pending:
		if !ok {
			return ErrSourceClosed
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrSourceClosed
		}
		s.conn = conn
		s.mu.Unlock()
		s.logger.Info().Str("stream_id", s.streamID).Msg("Proxy source connected")
		return nil
	}
}

func (s *ProxySource) Read(ctx context.Context) ([]byte, time.Time, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil, time.Time{}, errNotConnected
	}

	// Idle timeout doubles as disconnect detection
	if dr, ok := conn.(deadlineReader); ok && s.readTimeout > 0 {
		_ = dr.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
		return nil, time.Time{}, err
	}

	var msg models.IngestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, time.Time{}, ErrMalformedPayload
	}

	capturedAt := msg.Timestamp
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return msg.Frame, capturedAt, nil
}

func (s *ProxySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	select {
	case stale := <-s.pending:
		stale.Close()
	default:
	}

	return nil
}

func (s *ProxySource) Mode() models.SourceMode {
	return models.SourceModeProxy
}

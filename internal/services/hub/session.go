package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Role of a viewer link session.
type Role string

const (
	RoleAdmin    Role = "admin-viewer"
	RoleCustomer Role = "customer-viewer"
)

// MessageWriter is the outbound half of a viewer connection. Satisfied by
// *websocket.Conn; tests substitute their own.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Session is one connected viewer link. It owns a bounded outbound queue
// with a most-recent-wins eviction policy, so a slow or dead consumer never
// blocks the hub or any other viewer. Created on connect, destroyed on
// disconnect; never shared across connections.
type Session struct {
	ID         string
	Role       Role
	CustomerID string

	conn         MessageWriter
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       zerolog.Logger

	sent          atomic.Uint64
	droppedOldest atomic.Uint64

	mu           sync.Mutex
	lastActivity time.Time
}

// SessionStats is a snapshot of per-session delivery counters.
type SessionStats struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Sent         uint64    `json:"sent"`
	Dropped      uint64    `json:"dropped"`
	LastActivity time.Time `json:"last_activity"`
}

func newSession(role Role, customerID string, conn MessageWriter, queueSize int, writeTimeout time.Duration, logger zerolog.Logger) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Session{
		ID:           uuid.NewString(),
		Role:         role,
		CustomerID:   customerID,
		conn:         conn,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
		lastActivity: time.Now(),
	}
}

// enqueue queues a message for delivery. When the queue is full the oldest
// queued message is evicted first: most-recent-frame-wins per viewer.
func (s *Session) enqueue(msg []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.out <- msg:
		return
	default:
	}

	select {
	case <-s.out:
		s.droppedOldest.Add(1)
	default:
	}

	select {
	case s.out <- msg:
	default:
		s.droppedOldest.Add(1)
	}
}

// writeLoop drains the outbound queue onto the connection. Runs as the only
// writer for this session; returns on write failure or Close.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if dw, ok := s.conn.(deadlineWriter); ok && s.writeTimeout > 0 {
				_ = dw.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug().Str("session_id", s.ID).Err(err).Msg("Viewer write failed, closing session")
				s.Close()
				return
			}
			s.sent.Add(1)
		}
	}
}

// Touch records inbound activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Close releases the session and its queue. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Closed reports whether the session has been released.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	last := s.lastActivity
	s.mu.Unlock()

	return SessionStats{
		ID:           s.ID,
		Role:         string(s.Role),
		CustomerID:   s.CustomerID,
		Sent:         s.sent.Load(),
		Dropped:      s.droppedOldest.Load(),
		LastActivity: last,
	}
}

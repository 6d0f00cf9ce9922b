package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/helpers"
	"freshtrack-relay-go/internal/models"
)

// Link normalizes frames from one camera source into the internal frame
// stream for a single logical stream. It assigns sequence numbers, validates
// payloads and feeds the pipeline through a bounded channel with a
// drop-oldest policy so a slow pipeline never blocks ingest.
type Link struct {
	streamID string
	mode     models.SourceMode
	logger   zerolog.Logger

	out chan *models.Frame

	seq           atomic.Uint64
	framesIn      atomic.Uint64
	decodeErrors  atomic.Uint64
	outOfOrder    atomic.Uint64
	droppedOldest atomic.Uint64

	mu             sync.Mutex
	lastCapturedAt time.Time
	lastFrameAt    time.Time
	recentTimes    []time.Time // rolling window for FPS
	fpsWindowSize  int
}

// LinkStats is a point-in-time snapshot of link counters.
type LinkStats struct {
	StreamID      string    `json:"stream_id"`
	Mode          string    `json:"mode"`
	Sequence      uint64    `json:"sequence"`
	FramesIn      uint64    `json:"frames_in"`
	DecodeErrors  uint64    `json:"decode_errors"`
	OutOfOrder    uint64    `json:"out_of_order"`
	DroppedOldest uint64    `json:"dropped_oldest"`
	LastFrameAt   time.Time `json:"last_frame_at"`
	FPS           float64   `json:"fps"`
}

func NewLink(streamID string, mode models.SourceMode, bufferSize, fpsWindowSize int, logger zerolog.Logger) *Link {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Link{
		streamID:      streamID,
		mode:          mode,
		logger:        logger,
		out:           make(chan *models.Frame, bufferSize),
		fpsWindowSize: fpsWindowSize,
	}
}

// Frames is the stream consumed by the processing pipeline.
func (l *Link) Frames() <-chan *models.Frame {
	return l.out
}

// Ingest validates one encoded frame, assigns the next sequence number and
// emits it downstream. Malformed payloads are dropped and counted, never
// fatal to the link.
func (l *Link) Ingest(payload []byte, capturedAt time.Time) {
	width, height, err := helpers.ImageDims(payload)
	if err != nil {
		l.CountDecodeError()
		l.logger.Debug().
			Str("stream_id", l.streamID).
			Err(err).
			Msg("Dropping undecodable frame")
		return
	}

	seq := l.seq.Add(1)
	now := time.Now()

	l.mu.Lock()
	outOfOrder := !l.lastCapturedAt.IsZero() && capturedAt.Before(l.lastCapturedAt)
	if !outOfOrder {
		l.lastCapturedAt = capturedAt
	}
	l.lastFrameAt = now
	l.recentTimes = append(l.recentTimes, now)
	if len(l.recentTimes) > l.fpsWindowSize {
		l.recentTimes = l.recentTimes[1:]
	}
	l.mu.Unlock()

	if outOfOrder {
		l.outOfOrder.Add(1)
	}
	l.framesIn.Add(1)

	frame := &models.Frame{
		StreamID:   l.streamID,
		Sequence:   seq,
		Payload:    payload,
		Width:      width,
		Height:     height,
		CapturedAt: capturedAt,
		IngestedAt: now,
		OutOfOrder: outOfOrder,
	}

	l.send(frame)
}

// send delivers a frame to the pipeline channel, evicting the oldest queued
// frame when the buffer is full. Freshness of the feed beats completeness.
func (l *Link) send(frame *models.Frame) {
	select {
	case l.out <- frame:
		return
	default:
	}

	select {
	case <-l.out:
		l.droppedOldest.Add(1)
	default:
	}

	select {
	case l.out <- frame:
	default:
		l.droppedOldest.Add(1)
		l.logger.Debug().
			Str("stream_id", l.streamID).
			Uint64("sequence", frame.Sequence).
			Msg("Skipped frame - pipeline buffer full")
	}
}

// CountDecodeError records a malformed inbound message.
func (l *Link) CountDecodeError() {
	l.decodeErrors.Add(1)
}

// Stale reports whether no frame has arrived within threshold.
func (l *Link) Stale(threshold time.Duration) bool {
	l.mu.Lock()
	last := l.lastFrameAt
	l.mu.Unlock()

	return !last.IsZero() && time.Since(last) > threshold
}

func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	last := l.lastFrameAt
	fps := l.fpsLocked()
	l.mu.Unlock()

	return LinkStats{
		StreamID:      l.streamID,
		Mode:          string(l.mode),
		Sequence:      l.seq.Load(),
		FramesIn:      l.framesIn.Load(),
		DecodeErrors:  l.decodeErrors.Load(),
		OutOfOrder:    l.outOfOrder.Load(),
		DroppedOldest: l.droppedOldest.Load(),
		LastFrameAt:   last,
		FPS:           fps,
	}
}

// fpsLocked computes FPS over the rolling window. Caller holds l.mu.
func (l *Link) fpsLocked() float64 {
	if len(l.recentTimes) < 2 {
		return 0
	}

	span := l.recentTimes[len(l.recentTimes)-1].Sub(l.recentTimes[0]).Seconds()
	if span <= 0 {
		return 0
	}

	return float64(len(l.recentTimes)-1) / span
}

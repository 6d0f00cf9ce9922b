package ingest

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/models"
)

// encodedFrame returns a small valid PNG payload for ingest tests.
func encodedFrame(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

// TestLinkAssignsSequence verifies monotonic sequence assignment and
// dimension extraction.
func TestLinkAssignsSequence(t *testing.T) {
	link := NewLink("stream-1", models.SourceModeProxy, 10, 30, zerolog.Nop())

	payload := encodedFrame(t, 4, 3)
	base := time.Now()
	for i := 0; i < 3; i++ {
		link.Ingest(payload, base.Add(time.Duration(i)*time.Second))
	}

	for want := uint64(1); want <= 3; want++ {
		select {
		case frame := <-link.Frames():
			if frame.Sequence != want {
				t.Errorf("Expected sequence %d, got %d", want, frame.Sequence)
			}
			if frame.Width != 4 || frame.Height != 3 {
				t.Errorf("Expected dimensions 4x3, got %dx%d", frame.Width, frame.Height)
			}
			if frame.StreamID != "stream-1" {
				t.Errorf("Expected stream-1, got %s", frame.StreamID)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("Timeout waiting for frame %d", want)
		}
	}

	stats := link.Stats()
	if stats.FramesIn != 3 {
		t.Errorf("Expected 3 frames in, got %d", stats.FramesIn)
	}
}

// TestLinkDropsUndecodable verifies malformed payloads are counted and
// never emitted downstream.
func TestLinkDropsUndecodable(t *testing.T) {
	link := NewLink("stream-1", models.SourceModeProxy, 10, 30, zerolog.Nop())

	link.Ingest([]byte("not an image"), time.Now())

	select {
	case frame := <-link.Frames():
		t.Fatalf("Undecodable payload emitted as frame %d", frame.Sequence)
	case <-time.After(50 * time.Millisecond):
	}

	stats := link.Stats()
	if stats.DecodeErrors != 1 {
		t.Errorf("Expected 1 decode error, got %d", stats.DecodeErrors)
	}
	if stats.FramesIn != 0 {
		t.Errorf("Expected 0 frames in, got %d", stats.FramesIn)
	}
	if stats.Sequence != 0 {
		t.Errorf("Sequence should not advance on decode error, got %d", stats.Sequence)
	}
}

// TestLinkDropOldest verifies the bounded buffer evicts the oldest frame
// when the pipeline lags, keeping the freshest frames.
func TestLinkDropOldest(t *testing.T) {
	link := NewLink("stream-1", models.SourceModeProxy, 2, 30, zerolog.Nop())

	payload := encodedFrame(t, 2, 2)
	base := time.Now()
	for i := 0; i < 3; i++ {
		link.Ingest(payload, base.Add(time.Duration(i)*time.Second))
	}

	// Frame 1 was evicted; 2 and 3 remain in order.
	for _, want := range []uint64{2, 3} {
		select {
		case frame := <-link.Frames():
			if frame.Sequence != want {
				t.Errorf("Expected sequence %d, got %d", want, frame.Sequence)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("Timeout waiting for frame %d", want)
		}
	}

	if got := link.Stats().DroppedOldest; got != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", got)
	}
}

// TestLinkFlagsOutOfOrder verifies regressions in capture time are flagged
// but still delivered.
func TestLinkFlagsOutOfOrder(t *testing.T) {
	link := NewLink("stream-1", models.SourceModeProxy, 10, 30, zerolog.Nop())

	payload := encodedFrame(t, 2, 2)
	base := time.Now()
	link.Ingest(payload, base)
	link.Ingest(payload, base.Add(-time.Second))
	link.Ingest(payload, base.Add(time.Second))

	flags := []bool{false, true, false}
	for i, wantFlag := range flags {
		select {
		case frame := <-link.Frames():
			if frame.OutOfOrder != wantFlag {
				t.Errorf("Frame %d: expected OutOfOrder=%v, got %v", i+1, wantFlag, frame.OutOfOrder)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("Timeout waiting for frame %d", i+1)
		}
	}

	if got := link.Stats().OutOfOrder; got != 1 {
		t.Errorf("Expected 1 out-of-order frame, got %d", got)
	}
}

// TestLinkStale verifies staleness detection against the last arrival.
func TestLinkStale(t *testing.T) {
	link := NewLink("stream-1", models.SourceModeProxy, 10, 30, zerolog.Nop())

	// No frames yet: not stale.
	if link.Stale(10 * time.Millisecond) {
		t.Error("Link with no frames should not report stale")
	}

	link.Ingest(encodedFrame(t, 2, 2), time.Now())
	if link.Stale(time.Minute) {
		t.Error("Link should not be stale immediately after a frame")
	}

	time.Sleep(20 * time.Millisecond)
	if !link.Stale(10 * time.Millisecond) {
		t.Error("Link should report stale after the threshold passes")
	}
}

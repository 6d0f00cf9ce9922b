package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/hub"
)

// scriptedAnalyzer returns canned scores in order; a nil entry means the
// analysis call fails. When invs is set it pairs each score with the
// inventory target the analyzer reports.
type scriptedAnalyzer struct {
	mu     sync.Mutex
	scores []float64
	invs   []string
	fail   bool
	calls  int
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, frame *models.Frame) (*models.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if a.fail || len(a.scores) == 0 {
		return nil, errors.New("analyzer unavailable")
	}
	score := a.scores[0]
	a.scores = a.scores[1:]
	inv := "inv-1"
	if len(a.invs) > 0 {
		inv = a.invs[0]
		a.invs = a.invs[1:]
	}
	return &models.Analysis{
		InventoryID: inv,
		Detections:  []models.Detection{{Label: "apple", Confidence: 0.9}},
		Score:       score,
	}, nil
}

// captureSink records submitted inventory updates and alerts.
type captureSink struct {
	mu     sync.Mutex
	events []models.InventoryUpdateEvent
	alerts []models.InventoryUpdateEvent
	err    error
}

func (s *captureSink) Submit(ctx context.Context, ev models.InventoryUpdateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) SubmitAlert(ctx context.Context, ev models.InventoryUpdateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, ev)
	return nil
}

func (s *captureSink) all() []models.InventoryUpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InventoryUpdateEvent(nil), s.events...)
}

func (s *captureSink) allAlerts() []models.InventoryUpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InventoryUpdateEvent(nil), s.alerts...)
}

// viewerConn is a hub.MessageWriter collecting delivered messages.
type viewerConn struct {
	mu     sync.Mutex
	closed bool
	writes chan []byte
}

func newViewerConn() *viewerConn {
	return &viewerConn{writes: make(chan []byte, 128)}
}

func (c *viewerConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("connection closed")
	}
	c.writes <- data
	return nil
}

func (c *viewerConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type viewerMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// drainMessages collects viewer messages until the connection has been
// quiet for a moment.
func drainMessages(t *testing.T, c *viewerConn, atLeast int) []viewerMessage {
	t.Helper()

	var out []viewerMessage
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.writes:
			var msg viewerMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("Failed to decode viewer message: %v", err)
			}
			out = append(out, msg)
		case <-time.After(100 * time.Millisecond):
			if len(out) >= atLeast {
				return out
			}
		case <-deadline:
			t.Fatalf("Timeout: expected at least %d messages, got %d", atLeast, len(out))
		}
	}
}

func pipelineConfig() *config.Config {
	return &config.Config{
		AnalyzeTimeout:      time.Second,
		ScoreDeltaThreshold: 5.0,
		ViewerQueueSize:     64,
		ViewerWriteTimeout:  time.Second,
	}
}

func testFrame(seq uint64) *models.Frame {
	return &models.Frame{
		StreamID:   "stream-1",
		Sequence:   seq,
		Payload:    []byte{0xFF, 0xD8, 0xFF},
		CapturedAt: time.Now(),
		IngestedAt: time.Now(),
	}
}

// TestFirstResultIsBaseline verifies the first successful analysis never
// emits an inventory update.
func TestFirstResultIsBaseline(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()
	sink := &captureSink{}
	analyzer := &scriptedAnalyzer{scores: []float64{85}}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())
	p.process(context.Background(), testFrame(1))

	if got := sink.all(); len(got) != 0 {
		t.Errorf("Baseline result must not emit events, got %d", len(got))
	}
	if got := p.Stats().Processed; got != 1 {
		t.Errorf("Expected 1 processed frame, got %d", got)
	}
}

// TestSmallDeltaSuppressed verifies jitter within the same bucket emits
// nothing.
func TestSmallDeltaSuppressed(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()
	sink := &captureSink{}
	analyzer := &scriptedAnalyzer{scores: []float64{72, 74, 71}}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())
	for seq := uint64(1); seq <= 3; seq++ {
		p.process(context.Background(), testFrame(seq))
	}

	if got := sink.all(); len(got) != 0 {
		t.Errorf("Expected no events for in-bucket jitter, got %d", len(got))
	}
}

// TestBucketChangeEmits verifies a small delta still emits when the
// status or discount bucket changes.
func TestBucketChangeEmits(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()
	sink := &captureSink{}

	// Delta 72→68 is below the threshold but crosses fresh→warning.
	analyzer := &scriptedAnalyzer{scores: []float64{72, 68}}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())
	p.process(context.Background(), testFrame(1))
	p.process(context.Background(), testFrame(2))

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event on bucket change, got %d", len(events))
	}
	ev := events[0]
	if ev.PreviousScore != 72 || ev.NewScore != 68 {
		t.Errorf("Unexpected scores in event: %+v", ev)
	}
	if ev.NewStatus != models.StatusWarning || ev.NewDiscount != 25 {
		t.Errorf("Expected warning/25%%, got %s/%d%%", ev.NewStatus, ev.NewDiscount)
	}
}

// TestAnalyzerFailurePassthrough verifies frames still reach viewers,
// unannotated, while the analyzer is down.
func TestAnalyzerFailurePassthrough(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()

	conn := newViewerConn()
	h.AddAdmin(conn)

	sink := &captureSink{}
	analyzer := &scriptedAnalyzer{fail: true}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())
	p.process(context.Background(), testFrame(1))

	msgs := drainMessages(t, conn, 1)
	if msgs[0].Type != models.EventFrame {
		t.Fatalf("Expected frame message, got %s", msgs[0].Type)
	}

	var payload models.FramePayload
	if err := json.Unmarshal(msgs[0].Data, &payload); err != nil {
		t.Fatalf("Failed to decode frame payload: %v", err)
	}
	if payload.Analyzed {
		t.Error("Frame should be marked unanalyzed on analyzer failure")
	}
	if payload.Detections == nil {
		t.Error("Detections should be empty, not absent")
	}

	stats := p.Stats()
	if stats.AnalysisFailures != 1 {
		t.Errorf("Expected 1 analysis failure, got %d", stats.AnalysisFailures)
	}
	if len(sink.all()) != 0 {
		t.Error("Analyzer failure must not emit inventory events")
	}
}

// TestSinkFailureNonFatal verifies a rejected event is counted and dropped
// while frames and viewer events keep flowing.
func TestSinkFailureNonFatal(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()

	conn := newViewerConn()
	h.AddAdmin(conn)

	sink := &captureSink{err: errors.New("nats unavailable")}
	analyzer := &scriptedAnalyzer{scores: []float64{85, 45}}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())
	p.process(context.Background(), testFrame(1))
	p.process(context.Background(), testFrame(2))

	stats := p.Stats()
	if stats.SinkFailures != 1 {
		t.Errorf("Expected 1 sink failure, got %d", stats.SinkFailures)
	}
	if stats.EventsEmitted != 1 {
		t.Errorf("Expected 1 emitted event, got %d", stats.EventsEmitted)
	}

	// Both frames and the freshness_updated event still reach viewers.
	msgs := drainMessages(t, conn, 3)
	var frames, updates int
	for _, m := range msgs {
		switch m.Type {
		case models.EventFrame:
			frames++
		case models.EventFreshnessUpdated:
			updates++
		}
	}
	if frames != 2 || updates != 1 {
		t.Errorf("Expected 2 frames and 1 update, got %d and %d", frames, updates)
	}
}

// TestPerTargetBaselines verifies delta detection is keyed by the inventory
// target the analyzer reports: interleaved targets each establish their own
// baseline instead of registering as swings on a shared one.
func TestPerTargetBaselines(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()
	sink := &captureSink{}

	// inv-a and inv-b alternate; each target only ever jitters inside its
	// own bucket, so nothing is a material change.
	analyzer := &scriptedAnalyzer{
		scores: []float64{85, 45, 84, 44},
		invs:   []string{"inv-a", "inv-b", "inv-a", "inv-b"},
	}

	p := New("stream-1", "inv-a", analyzer, sink, h, cfg, zerolog.Nop())
	for seq := uint64(1); seq <= 4; seq++ {
		p.process(context.Background(), testFrame(seq))
	}

	if got := sink.all(); len(got) != 0 {
		t.Fatalf("Interleaved targets must keep separate baselines, got %d events", len(got))
	}

	// Stats report the configured target, not whichever result came last.
	stats := p.Stats()
	if stats.LastScore != 84 {
		t.Errorf("Expected last score 84 for the configured target, got %v", stats.LastScore)
	}
	if stats.LastStatus != models.StatusFresh.String() {
		t.Errorf("Expected fresh status for the configured target, got %s", stats.LastStatus)
	}
}

// TestScoreProgression runs a declining score sequence through Run and
// checks event and frame delivery end to end.
func TestScoreProgression(t *testing.T) {
	cfg := pipelineConfig()
	h := hub.NewService(cfg)
	defer h.Shutdown()

	conn := newViewerConn()
	h.AddAdmin(conn)

	sink := &captureSink{}
	scores := []float64{85, 72, 45, 15, 5}
	analyzer := &scriptedAnalyzer{scores: append([]float64(nil), scores...)}

	p := New("stream-1", "inv-1", analyzer, sink, h, cfg, zerolog.Nop())

	frames := make(chan *models.Frame, len(scores))
	for seq := uint64(1); seq <= uint64(len(scores)); seq++ {
		frames <- testFrame(seq)
	}
	close(frames)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), frames)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipeline did not drain the frame channel")
	}

	// First result is the baseline; each following score changes bucket.
	events := sink.all()
	if len(events) != len(scores)-1 {
		t.Fatalf("Expected %d events, got %d", len(scores)-1, len(events))
	}
	for i, ev := range events {
		if ev.PreviousScore != scores[i] || ev.NewScore != scores[i+1] {
			t.Errorf("Event %d: expected %v→%v, got %v→%v",
				i, scores[i], scores[i+1], ev.PreviousScore, ev.NewScore)
		}
		if ev.InventoryID != "inv-1" {
			t.Errorf("Event %d: unexpected inventory %s", i, ev.InventoryID)
		}
	}

	// Every frame reaches the admin viewer in order; critical and expired
	// transitions also raise alerts.
	msgs := drainMessages(t, conn, len(scores)+len(events)+2)
	var sequences []uint64
	var alerts int
	for _, m := range msgs {
		switch m.Type {
		case models.EventFrame:
			var payload models.FramePayload
			if err := json.Unmarshal(m.Data, &payload); err != nil {
				t.Fatalf("Failed to decode frame payload: %v", err)
			}
			sequences = append(sequences, payload.Sequence)
		case models.EventFreshnessAlert:
			alerts++
		}
	}

	if len(sequences) != len(scores) {
		t.Fatalf("Expected %d frames delivered, got %d", len(scores), len(sequences))
	}
	for i, seq := range sequences {
		if seq != uint64(i+1) {
			t.Errorf("Frame %d delivered out of order: sequence %d", i, seq)
		}
	}
	if alerts != 2 {
		t.Errorf("Expected alerts for critical and expired transitions, got %d", alerts)
	}
	if got := sink.allAlerts(); len(got) != 2 {
		t.Errorf("Expected 2 alerts on the sink, got %d", len(got))
	}
}

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/models"
	"freshtrack-relay-go/internal/services/analysis"
	"freshtrack-relay-go/internal/services/hub"
	"freshtrack-relay-go/internal/services/inventory"
)

// Pipeline processes the frames of one stream in arrival order: analyze,
// annotate, fan out, and emit an inventory update when the freshness state
// changes materially. Single writer per stream; the last-known freshness
// result is the only state shared across frames and it is owned here.
type Pipeline struct {
	streamID    string
	inventoryID string
	analyzer    analysis.Analyzer
	sink        inventory.Sink
	broadcaster *hub.Service
	cfg         *config.Config
	logger      zerolog.Logger

	// last known result per inventory target; a target is absent until its
	// first successful analysis. The analyzer may report a target other than
	// the configured one, so delta detection is keyed by the reported ID.
	// Written only by the pipeline goroutine; the mutex covers concurrent
	// stats readers.
	lastMu sync.Mutex
	last   map[string]*models.FreshnessResult

	processed        atomic.Uint64
	analysisFailures atomic.Uint64
	eventsEmitted    atomic.Uint64
	sinkFailures     atomic.Uint64
}

// PipelineStats is a point-in-time snapshot of pipeline counters.
type PipelineStats struct {
	StreamID         string  `json:"stream_id"`
	InventoryID      string  `json:"inventory_id"`
	Processed        uint64  `json:"processed"`
	AnalysisFailures uint64  `json:"analysis_failures"`
	EventsEmitted    uint64  `json:"events_emitted"`
	SinkFailures     uint64  `json:"sink_failures"`
	LastScore        float64 `json:"last_score"`
	LastStatus       string  `json:"last_status"`
}

func New(streamID, inventoryID string, analyzer analysis.Analyzer, sink inventory.Sink, broadcaster *hub.Service, cfg *config.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		streamID:    streamID,
		inventoryID: inventoryID,
		analyzer:    analyzer,
		sink:        sink,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
		last:        make(map[string]*models.FreshnessResult),
	}
}

// Run consumes frames until ctx is canceled or the channel closes.
func (p *Pipeline) Run(ctx context.Context, frames <-chan *models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("stream_id", p.streamID).
				Interface("panic", r).
				Msg("Pipeline panic recovered")
		}
	}()

	p.logger.Debug().Str("stream_id", p.streamID).Msg("Pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Str("stream_id", p.streamID).Msg("Pipeline stopping")
			return
		case frame, ok := <-frames:
			if !ok {
				p.logger.Debug().Str("stream_id", p.streamID).Msg("Frame channel closed")
				return
			}
			p.process(ctx, frame)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, frame *models.Frame) {
	start := time.Now()

	actx, cancel := context.WithTimeout(ctx, p.cfg.AnalyzeTimeout)
	result, err := p.analyzer.Analyze(actx, frame)
	cancel()

	var annotated *models.AnnotatedFrame
	if err != nil {
		// Raw passthrough: viewers must never see a frozen stream because
		// the analyzer is down. Counted, not escalated.
		p.analysisFailures.Add(1)
		p.logger.Debug().
			Str("stream_id", p.streamID).
			Uint64("sequence", frame.Sequence).
			Err(err).
			Msg("Analysis failed, forwarding frame unannotated")

		annotated = &models.AnnotatedFrame{
			Frame:      frame,
			Detections: []models.Detection{},
		}
	} else {
		freshness := models.NewFreshnessResult(result.Score)
		inventoryID := result.InventoryID
		if inventoryID == "" {
			inventoryID = p.inventoryID
		}

		annotated = &models.AnnotatedFrame{
			Frame:        frame,
			Detections:   result.Detections,
			Freshness:    freshness,
			InventoryID:  inventoryID,
			AnalysisTime: time.Since(start),
			Analyzed:     true,
		}

		p.applyFreshness(ctx, inventoryID, freshness)
	}

	p.processed.Add(1)
	p.broadcaster.BroadcastFrame(annotated)
}

// applyFreshness updates the last-known result and emits an inventory
// update event when the change is material: a score delta beyond the
// threshold, or any status/discount bucket change. The very first result
// establishes the baseline without an event.
func (p *Pipeline) applyFreshness(ctx context.Context, inventoryID string, freshness models.FreshnessResult) {
	p.lastMu.Lock()
	prev := p.last[inventoryID]
	p.last[inventoryID] = &freshness
	p.lastMu.Unlock()

	if prev == nil {
		return
	}

	scoreDelta := freshness.Score - prev.Score
	if scoreDelta < 0 {
		scoreDelta = -scoreDelta
	}

	if scoreDelta <= p.cfg.ScoreDeltaThreshold && freshness.SameBucket(*prev) {
		return
	}

	event := models.InventoryUpdateEvent{
		InventoryID:   inventoryID,
		PreviousScore: prev.Score,
		NewScore:      freshness.Score,
		NewStatus:     freshness.Status,
		NewDiscount:   freshness.Discount,
		Timestamp:     time.Now(),
	}

	p.eventsEmitted.Add(1)

	if err := p.sink.Submit(ctx, event); err != nil {
		// Sink failures are non-fatal: log, drop the event, keep streaming.
		p.sinkFailures.Add(1)
		p.logger.Warn().
			Str("stream_id", p.streamID).
			Str("inventory_id", inventoryID).
			Err(err).
			Msg("Inventory sink rejected event")
	}

	p.broadcaster.BroadcastEvent(models.EventFreshnessUpdated, event)

	if freshness.Status == models.StatusCritical || freshness.Status == models.StatusExpired {
		p.broadcaster.BroadcastEvent(models.EventFreshnessAlert, event)
		if err := p.sink.SubmitAlert(ctx, event); err != nil {
			p.sinkFailures.Add(1)
			p.logger.Warn().
				Str("stream_id", p.streamID).
				Str("inventory_id", inventoryID).
				Err(err).
				Msg("Freshness alert not delivered")
		}
	}
}

func (p *Pipeline) Stats() PipelineStats {
	stats := PipelineStats{
		StreamID:         p.streamID,
		InventoryID:      p.inventoryID,
		Processed:        p.processed.Load(),
		AnalysisFailures: p.analysisFailures.Load(),
		EventsEmitted:    p.eventsEmitted.Load(),
		SinkFailures:     p.sinkFailures.Load(),
	}
	p.lastMu.Lock()
	if last := p.last[p.inventoryID]; last != nil {
		stats.LastScore = last.Score
		stats.LastStatus = last.Status.String()
	}
	p.lastMu.Unlock()
	return stats
}

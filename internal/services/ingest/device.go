package ingest

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/models"
)

const maxConsecutiveReadErrors = 10

// DeviceSource captures from a locally attached device or an RTSP URL via
// OpenCV, resizes to the configured output size and encodes JPEG.
type DeviceSource struct {
	streamID string
	url      string // device index ("0") or RTSP URL
	cfg      *config.Config
	logger   zerolog.Logger

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	closed bool

	consecutiveErrors int
	lastRead          time.Time
}

func NewDeviceSource(streamID, url string, cfg *config.Config, logger zerolog.Logger) *DeviceSource {
	return &DeviceSource{
		streamID: streamID,
		url:      url,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *DeviceSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}

	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}

	cap, err := gocv.OpenVideoCapture(s.url)
	if err != nil {
		return fmt.Errorf("open capture device %s: %w", s.url, err)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.OutputWidth))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.OutputHeight))
	cap.Set(gocv.VideoCaptureBufferSize, 1) // minimal buffer for low latency

	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture device %s is not opened", s.url)
	}

	s.cap = cap
	s.consecutiveErrors = 0

	s.logger.Info().
		Str("stream_id", s.streamID).
		Str("url", s.url).
		Float64("device_fps", cap.Get(gocv.VideoCaptureFPS)).
		Msg("Capture device opened")

	return nil
}

func (s *DeviceSource) Read(ctx context.Context) ([]byte, time.Time, error) {
	s.mu.Lock()
	cap := s.cap
	s.mu.Unlock()

	if cap == nil {
		return nil, time.Time{}, errNotConnected
	}

	// Pace reads to the configured capture FPS
	if s.cfg.CaptureFPS > 0 && !s.lastRead.IsZero() {
		interval := time.Second / time.Duration(s.cfg.CaptureFPS)
		if wait := interval - time.Since(s.lastRead); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, time.Time{}, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	img := gocv.NewMat()
	defer func() { img.Close() }()

	if ok := cap.Read(&img); !ok || img.Empty() {
		s.consecutiveErrors++
		if s.consecutiveErrors >= maxConsecutiveReadErrors {
			return nil, time.Time{}, fmt.Errorf("capture device %s: %d consecutive read failures", s.url, s.consecutiveErrors)
		}
		return nil, time.Time{}, ErrMalformedPayload
	}

	s.consecutiveErrors = 0
	s.lastRead = time.Now()

	if img.Cols() != s.cfg.OutputWidth || img.Rows() != s.cfg.OutputHeight {
		resized := gocv.NewMat()
		gocv.Resize(img, &resized, image.Pt(s.cfg.OutputWidth, s.cfg.OutputHeight), 0, 0, gocv.InterpolationLinear)
		img.Close()
		img = resized
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, s.cfg.OutputQuality})
	if err != nil {
		return nil, time.Time{}, ErrMalformedPayload
	}
	defer buf.Close()

	b := buf.GetBytes()
	payload := make([]byte, len(b))
	copy(payload, b)

	return payload, s.lastRead, nil
}

func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.cap != nil {
		err := s.cap.Close()
		s.cap = nil
		return err
	}
	return nil
}

func (s *DeviceSource) Mode() models.SourceMode {
	return models.SourceModeLocal
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	RelayID     string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// NATS (inventory sink, analysis request-reply, backend events)
	// Default: nats://localhost:4222 (works with Docker Compose setup)
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration

	// Subjects
	InventoryUpdateSubject string
	FreshnessAlertSubject  string
	AnalyzeSubject         string
	BackendEventsSubject   string
	RecommendationSubject  string

	// Ingest
	MaxStreams          int
	FrameBufferSize     int           // frames queued between ingest and pipeline
	IngestReadTimeout   time.Duration // idle timeout on the camera link
	FrameStaleThreshold time.Duration

	// Reconnection backoff
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration
	ReconnectJitterPct  int

	// Local capture
	CaptureFPS    int
	OutputWidth   int
	OutputHeight  int
	OutputQuality int // JPEG quality (1-100)

	// Analysis
	AnalyzeTimeout      time.Duration
	ScoreDeltaThreshold float64

	// Broadcast hub
	ViewerQueueSize    int
	ViewerWriteTimeout time.Duration

	// FPS Calculation (rolling window)
	FPSWindowSize int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RelayID:     getEnv("RELAY_ID", "relay-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// NATS
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),

		// Subjects
		InventoryUpdateSubject: getEnv("INVENTORY_UPDATE_SUBJECT", "inventory.updates"),
		FreshnessAlertSubject:  getEnv("FRESHNESS_ALERT_SUBJECT", "inventory.alerts"),
		AnalyzeSubject:         getEnv("ANALYZE_SUBJECT", "freshness.analyze"),
		BackendEventsSubject:   getEnv("BACKEND_EVENTS_SUBJECT", "backend.events.>"),
		RecommendationSubject:  getEnv("RECOMMENDATION_SUBJECT", "backend.recommendation.viewed"),

		// Ingest
		MaxStreams:          getEnvInt("MAX_STREAMS", 10),
		FrameBufferSize:     getEnvInt("FRAME_BUFFER_SIZE", 30),
		IngestReadTimeout:   getEnvDuration("INGEST_READ_TIMEOUT", 30*time.Second),
		FrameStaleThreshold: getEnvDuration("FRAME_STALE_THRESHOLD", 10*time.Second),

		// Reconnection backoff
		ReconnectBackoffMin: getEnvDuration("RECONNECT_BACKOFF_MIN", 1*time.Second),
		ReconnectBackoffMax: getEnvDuration("RECONNECT_BACKOFF_MAX", 30*time.Second),
		ReconnectJitterPct:  getEnvInt("RECONNECT_JITTER_PCT", 20),

		// Local capture
		CaptureFPS:    getEnvInt("CAPTURE_FPS", 15),
		OutputWidth:   getEnvInt("OUTPUT_WIDTH", 1280),
		OutputHeight:  getEnvInt("OUTPUT_HEIGHT", 720),
		OutputQuality: getEnvInt("OUTPUT_QUALITY", 85),

		// Analysis
		AnalyzeTimeout:      getEnvDuration("ANALYZE_TIMEOUT", 5*time.Second),
		ScoreDeltaThreshold: getEnvFloat("SCORE_DELTA_THRESHOLD", 5.0),

		// Broadcast hub
		ViewerQueueSize:    getEnvInt("VIEWER_QUEUE_SIZE", 8),
		ViewerWriteTimeout: getEnvDuration("VIEWER_WRITE_TIMEOUT", 10*time.Second),

		// FPS
		FPSWindowSize: getEnvInt("FPS_WINDOW_SIZE", 30),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}

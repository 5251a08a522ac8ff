package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server Config
	HTTPAddr    string
	MetricsAddr string
	PprofAddr   string

	// Media source
	SourceKind  string // "whep" or "device"
	GatewayURL  string
	DeviceID    string
	STUNServers []string

	// Session negotiation
	NegotiateTimeout time.Duration
	UnitBuffer       int

	// Recording
	ChunkInterval    time.Duration
	StopOnSourceLoss bool
	ThumbnailWidth   int

	// Artifact gallery
	MaxArtifacts int

	// Detection feed
	DetectionInterval time.Duration
	DetectionHistory  int

	// Logging
	LogLevel string
	LogColor bool
}

// New loads configuration from the environment, with a .env file as a
// fallback source when present.
func New() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),
		PprofAddr:   getEnv("PPROF_ADDR", ""),

		// Media source
		SourceKind:  getEnv("SOURCE_KIND", "whep"),
		GatewayURL:  getEnv("GATEWAY_URL", "http://localhost:8889/cam/whep"),
		DeviceID:    getEnv("DEVICE_ID", ""),
		STUNServers: getEnvAsList("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),

		// Session negotiation
		NegotiateTimeout: getEnvAsDuration("NEGOTIATE_TIMEOUT", 10*time.Second),
		UnitBuffer:       getEnvAsInt("UNIT_BUFFER", 60),

		// Recording
		ChunkInterval:    getEnvAsDuration("CHUNK_INTERVAL", 1*time.Second),
		StopOnSourceLoss: getEnvAsBool("STOP_ON_SOURCE_LOSS", false),
		ThumbnailWidth:   getEnvAsInt("THUMBNAIL_WIDTH", 320),

		// Artifact gallery
		MaxArtifacts: getEnvAsInt("MAX_ARTIFACTS", 50),

		// Detection feed
		DetectionInterval: getEnvAsDuration("DETECTION_INTERVAL", 2*time.Second),
		DetectionHistory:  getEnvAsInt("DETECTION_HISTORY", 100),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogColor: getEnvAsBool("LOG_COLOR", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Backend       BackendConfig
	Subtitles     SubtitlesConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
}

// BackendConfig holds the transcription backend REST settings.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

// SubtitlesConfig holds subtitle processing settings.
type SubtitlesConfig struct {
	// BotUID is the participant UID of the transcription agent.
	BotUID int64

	// MaxFragmentBytes drops ingested fragments larger than this.
	MaxFragmentBytes int

	// DemoChannel, when set, receives simulated fragments at startup.
	DemoChannel  string
	DemoInterval time.Duration
}

// KafkaConfig holds Kafka publisher and consumer settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	IngestTopic  string
	GroupID      string
	Principal    string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from an optional .env file and the environment.
// Variables already set in the environment win over the file.
func Load() *Config {
	envFile := envOrDefault("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Ignoring unreadable env file")
		}
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-live-subtitles")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Backend: BackendConfig{
			URL:     envOrDefault("SUBTITLES_BACKEND_URL", ""),
			Timeout: envOrDefaultDuration("SUBTITLES_BACKEND_TIMEOUT", 10*time.Second),
		},
		Subtitles: SubtitlesConfig{
			BotUID:           envOrDefaultInt64("SUBTITLES_BOT_UID", 101),
			MaxFragmentBytes: envOrDefaultInt("SUBTITLES_MAX_FRAGMENT_BYTES", 64*1024),
			DemoChannel:      envOrDefault("SUBTITLES_DEMO_CHANNEL", ""),
			DemoInterval:     envOrDefaultDuration("SUBTITLES_DEMO_INTERVAL", 400*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "channel.subtitle.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "channel.subtitle.final"),
			IngestTopic:  envOrDefault("KAFKA_INGEST_TOPIC", ""),
			GroupID:      envOrDefault("KAFKA_GROUP_ID", principal),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envOrDefaultDuration treats zero and negative durations as invalid.
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

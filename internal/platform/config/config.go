package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by
// key (as accepted by strconv.ParseBool), or fallback.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value of the environment variable named
// by key, or fallback. Bare integers are read as seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

// Config is the complete service configuration.
type Config struct {
	Port          string
	TuneRateLimit int // tune requests per client IP per minute; 0 disables

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	RelayAddr             string
	RelayQueueSize        int
	RelayProducerWait     time.Duration
	RelayConsumerWait     time.Duration
	RelayFirstSegmentWait time.Duration
	RelayWriteTimeout     time.Duration
	RelayRequestTimeout   time.Duration
	RelayDefaultPoll      time.Duration
	RelayIdlePoll         time.Duration

	UpstreamHost       string
	UpstreamPort       int
	UpstreamClient     string
	UpstreamDeviceName string
	UpstreamToken      string
	UpstreamTimeout    time.Duration
	UpstreamRateLimit  float64

	Kbps    int
	KbpsMin int
	KbpsMax int
}

// FromEnv builds a Config from the environment, applying defaults for unset
// variables.
func FromEnv() Config {
	return Config{
		Port:          GetEnv("PORT", "8080"),
		TuneRateLimit: GetEnvInt("TUNE_RATE_LIMIT", 30),

		LogLevel:      GetEnv("LOG_LEVEL", "info"),
		LogFormat:     GetEnv("LOG_FORMAT", "json"),
		LogFile:       GetEnv("LOG_FILE", ""),
		LogMaxSizeMB:  GetEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: GetEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: GetEnvInt("LOG_MAX_AGE_DAYS", 28),

		RelayAddr:             GetEnv("RELAY_ADDR", "127.0.0.1:2171"),
		RelayQueueSize:        GetEnvInt("RELAY_QUEUE_SIZE", 64),
		RelayProducerWait:     GetEnvDuration("RELAY_PRODUCER_WAIT", 60*time.Second),
		RelayConsumerWait:     GetEnvDuration("RELAY_CONSUMER_WAIT", 30*time.Second),
		RelayFirstSegmentWait: GetEnvDuration("RELAY_FIRST_SEGMENT_WAIT", 60*time.Second),
		RelayWriteTimeout:     GetEnvDuration("RELAY_WRITE_TIMEOUT", time.Second),
		RelayRequestTimeout:   GetEnvDuration("RELAY_REQUEST_TIMEOUT", 60*time.Second),
		RelayDefaultPoll:      GetEnvDuration("RELAY_DEFAULT_POLL", 4*time.Second),
		RelayIdlePoll:         GetEnvDuration("RELAY_IDLE_POLL", time.Second),

		UpstreamHost:       GetEnv("UPSTREAM_HOST", "127.0.0.1"),
		UpstreamPort:       GetEnvInt("UPSTREAM_PORT", 2170),
		UpstreamClient:     strings.ToUpper(GetEnv("UPSTREAM_CLIENT", "IDEV")),
		UpstreamDeviceName: GetEnv("UPSTREAM_DEVICE_NAME", "hls-relay"),
		UpstreamToken:      GetEnv("UPSTREAM_TOKEN", ""),
		UpstreamTimeout:    GetEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRateLimit:  GetEnvFloat("UPSTREAM_RATE_LIMIT", 0),

		Kbps:    GetEnvInt("KBPS", 2000),
		KbpsMin: GetEnvInt("KBPS_MIN", 320),
		KbpsMax: GetEnvInt("KBPS_MAX", 4540),
	}
}

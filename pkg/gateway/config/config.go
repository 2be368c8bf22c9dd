package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreKind selects the persistence backend.
type StoreKind string

const (
	StoreSQLite StoreKind = "sqlite"
	StoreMemory StoreKind = "memory"
)

type Config struct {
	Addr string

	// Live channel upstream.
	LiveURL           string
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int

	// Voice provider.
	VoiceURL        string
	VoiceAPIKey     string
	VoiceLanguage   string
	VoiceSampleRate int

	// Persistence.
	Store  StoreKind
	DBPath string

	// Display buffer (per session).
	DisplayCapacity    int
	DisplayDedupWindow time.Duration

	// Recovery.
	MaxRetries         int
	AttemptTimeout     time.Duration
	FallbackTimeout    time.Duration
	CheckpointInterval time.Duration
	NotifyDebounce     time.Duration

	// Retry curve.
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64

	// Circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
	LogLevel            string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("TUTOR_ADDR", ":8080"),
		LiveURL:             os.Getenv("TUTOR_LIVE_URL"),
		ConnectTimeout:      envDurationOr("TUTOR_LIVE_CONNECT_TIMEOUT", 10*time.Second),
		WriteTimeout:        envDurationOr("TUTOR_LIVE_WRITE_TIMEOUT", 5*time.Second),
		HealthInterval:      envDurationOr("TUTOR_LIVE_HEALTH_INTERVAL", 20*time.Second),
		HealthTimeout:       envDurationOr("TUTOR_LIVE_HEALTH_TIMEOUT", 45*time.Second),
		MaxMessageBytes:     envInt64Or("TUTOR_LIVE_MAX_MESSAGE_BYTES", 256*1024),
		OutboundQueueSize:   envIntOr("TUTOR_LIVE_OUTBOUND_QUEUE", 64),
		VoiceURL:            os.Getenv("TUTOR_VOICE_URL"),
		VoiceAPIKey:         os.Getenv("TUTOR_VOICE_API_KEY"),
		VoiceLanguage:       envOr("TUTOR_VOICE_LANGUAGE", "en-US"),
		VoiceSampleRate:     envIntOr("TUTOR_VOICE_SAMPLE_RATE", 16000),
		Store:               StoreKind(envOr("TUTOR_STORE", string(StoreSQLite))),
		DBPath:              envOr("TUTOR_DB_PATH", "tutor.db"),
		DisplayCapacity:     envIntOr("TUTOR_DISPLAY_CAPACITY", 500),
		DisplayDedupWindow:  envDurationOr("TUTOR_DISPLAY_DEDUP_WINDOW", 2*time.Second),
		MaxRetries:          envIntOr("TUTOR_RECOVERY_MAX_RETRIES", 5),
		AttemptTimeout:      envDurationOr("TUTOR_RECOVERY_ATTEMPT_TIMEOUT", 10*time.Second),
		FallbackTimeout:     envDurationOr("TUTOR_RECOVERY_FALLBACK_TIMEOUT", 2*time.Minute),
		CheckpointInterval:  envDurationOr("TUTOR_RECOVERY_CHECKPOINT_INTERVAL", 30*time.Second),
		NotifyDebounce:      envDurationOr("TUTOR_RECOVERY_NOTIFY_DEBOUNCE", 5*time.Second),
		BackoffBase:         envDurationOr("TUTOR_BACKOFF_BASE", time.Second),
		BackoffMax:          envDurationOr("TUTOR_BACKOFF_MAX", 30*time.Second),
		BackoffMultiplier:   envFloat64Or("TUTOR_BACKOFF_MULTIPLIER", 2.0),
		BackoffJitter:       envFloat64Or("TUTOR_BACKOFF_JITTER", 0.1),
		BreakerThreshold:    envIntOr("TUTOR_BREAKER_THRESHOLD", 5),
		BreakerCooldown:     envDurationOr("TUTOR_BREAKER_COOLDOWN", 30*time.Second),
		ReadHeaderTimeout:   envDurationOr("TUTOR_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("TUTOR_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("TUTOR_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		LogLevel:            envOr("TUTOR_LOG_LEVEL", "info"),
	}

	if strings.TrimSpace(cfg.LiveURL) == "" {
		return Config{}, fmt.Errorf("TUTOR_LIVE_URL must be set")
	}
	if strings.TrimSpace(cfg.VoiceURL) == "" {
		return Config{}, fmt.Errorf("TUTOR_VOICE_URL must be set")
	}
	if strings.TrimSpace(cfg.VoiceAPIKey) == "" {
		return Config{}, fmt.Errorf("TUTOR_VOICE_API_KEY must be set")
	}
	if cfg.VoiceSampleRate <= 0 {
		return Config{}, fmt.Errorf("TUTOR_VOICE_SAMPLE_RATE must be > 0")
	}
	switch cfg.Store {
	case StoreSQLite, StoreMemory:
	default:
		return Config{}, fmt.Errorf("TUTOR_STORE must be one of sqlite|memory")
	}
	if cfg.Store == StoreSQLite && strings.TrimSpace(cfg.DBPath) == "" {
		return Config{}, fmt.Errorf("TUTOR_DB_PATH must be set when TUTOR_STORE=sqlite")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_LIVE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_LIVE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HealthInterval < 0 || cfg.HealthTimeout < 0 {
		return Config{}, fmt.Errorf("TUTOR_LIVE_HEALTH_INTERVAL and TUTOR_LIVE_HEALTH_TIMEOUT must be >= 0")
	}
	if cfg.HealthInterval > 0 && cfg.HealthTimeout <= cfg.HealthInterval {
		return Config{}, fmt.Errorf("TUTOR_LIVE_HEALTH_TIMEOUT must exceed TUTOR_LIVE_HEALTH_INTERVAL")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("TUTOR_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("TUTOR_LIVE_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.DisplayCapacity <= 0 {
		return Config{}, fmt.Errorf("TUTOR_DISPLAY_CAPACITY must be > 0")
	}
	if cfg.DisplayDedupWindow < 0 {
		return Config{}, fmt.Errorf("TUTOR_DISPLAY_DEDUP_WINDOW must be >= 0")
	}
	if cfg.MaxRetries <= 0 {
		return Config{}, fmt.Errorf("TUTOR_RECOVERY_MAX_RETRIES must be > 0")
	}
	if cfg.AttemptTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_RECOVERY_ATTEMPT_TIMEOUT must be > 0")
	}
	if cfg.FallbackTimeout <= 0 {
		return Config{}, fmt.Errorf("TUTOR_RECOVERY_FALLBACK_TIMEOUT must be > 0")
	}
	if cfg.CheckpointInterval < 0 {
		return Config{}, fmt.Errorf("TUTOR_RECOVERY_CHECKPOINT_INTERVAL must be >= 0")
	}
	if cfg.NotifyDebounce <= 0 {
		return Config{}, fmt.Errorf("TUTOR_RECOVERY_NOTIFY_DEBOUNCE must be > 0")
	}
	if cfg.BackoffBase <= 0 {
		return Config{}, fmt.Errorf("TUTOR_BACKOFF_BASE must be > 0")
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		return Config{}, fmt.Errorf("TUTOR_BACKOFF_MAX must be >= TUTOR_BACKOFF_BASE")
	}
	if cfg.BackoffMultiplier <= 1 {
		return Config{}, fmt.Errorf("TUTOR_BACKOFF_MULTIPLIER must be > 1")
	}
	if cfg.BackoffJitter < 0 || cfg.BackoffJitter > 1 {
		return Config{}, fmt.Errorf("TUTOR_BACKOFF_JITTER must be in [0,1]")
	}
	if cfg.BreakerThreshold <= 0 {
		return Config{}, fmt.Errorf("TUTOR_BREAKER_THRESHOLD must be > 0")
	}
	if cfg.BreakerCooldown <= 0 {
		return Config{}, fmt.Errorf("TUTOR_BREAKER_COOLDOWN must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("TUTOR_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

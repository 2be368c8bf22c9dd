package config

import (
	"strings"
	"testing"
	"time"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/transport"
)

var tutorEnvKeys = []string{
	"TUTOR_ADDR",
	"TUTOR_LIVE_URL",
	"TUTOR_LIVE_CONNECT_TIMEOUT",
	"TUTOR_LIVE_WRITE_TIMEOUT",
	"TUTOR_LIVE_HEALTH_INTERVAL",
	"TUTOR_LIVE_HEALTH_TIMEOUT",
	"TUTOR_LIVE_MAX_MESSAGE_BYTES",
	"TUTOR_LIVE_OUTBOUND_QUEUE",
	"TUTOR_VOICE_URL",
	"TUTOR_VOICE_API_KEY",
	"TUTOR_VOICE_LANGUAGE",
	"TUTOR_VOICE_SAMPLE_RATE",
	"TUTOR_STORE",
	"TUTOR_DB_PATH",
	"TUTOR_DISPLAY_CAPACITY",
	"TUTOR_DISPLAY_DEDUP_WINDOW",
	"TUTOR_RECOVERY_MAX_RETRIES",
	"TUTOR_RECOVERY_ATTEMPT_TIMEOUT",
	"TUTOR_RECOVERY_FALLBACK_TIMEOUT",
	"TUTOR_RECOVERY_CHECKPOINT_INTERVAL",
	"TUTOR_RECOVERY_NOTIFY_DEBOUNCE",
	"TUTOR_BACKOFF_BASE",
	"TUTOR_BACKOFF_MAX",
	"TUTOR_BACKOFF_MULTIPLIER",
	"TUTOR_BACKOFF_JITTER",
	"TUTOR_BREAKER_THRESHOLD",
	"TUTOR_BREAKER_COOLDOWN",
	"TUTOR_READ_HEADER_TIMEOUT",
	"TUTOR_READ_TIMEOUT",
	"TUTOR_SHUTDOWN_GRACE_PERIOD",
	"TUTOR_LOG_LEVEL",
}

func clearTutorEnv(t *testing.T) {
	t.Helper()
	for _, key := range tutorEnvKeys {
		t.Setenv(key, "")
	}
	t.Setenv("TUTOR_LIVE_URL", "wss://live.example.com/v1/channel")
	t.Setenv("TUTOR_VOICE_URL", "wss://voice.example.com/v1")
	t.Setenv("TUTOR_VOICE_API_KEY", "vk_test")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearTutorEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.HealthInterval != 20*time.Second || cfg.HealthTimeout != 45*time.Second {
		t.Fatalf("health defaults = %v/%v, want 20s/45s", cfg.HealthInterval, cfg.HealthTimeout)
	}
	if cfg.MaxMessageBytes != 256*1024 {
		t.Fatalf("MaxMessageBytes = %d, want %d", cfg.MaxMessageBytes, int64(256*1024))
	}
	if cfg.VoiceLanguage != "en-US" || cfg.VoiceSampleRate != 16000 {
		t.Fatalf("voice defaults = %q/%d", cfg.VoiceLanguage, cfg.VoiceSampleRate)
	}
	if cfg.Store != StoreSQLite || cfg.DBPath != "tutor.db" {
		t.Fatalf("store defaults = %q/%q", cfg.Store, cfg.DBPath)
	}
	if cfg.DisplayCapacity != 500 || cfg.DisplayDedupWindow != 2*time.Second {
		t.Fatalf("display defaults = %d/%v", cfg.DisplayCapacity, cfg.DisplayDedupWindow)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.FallbackTimeout != 2*time.Minute {
		t.Fatalf("FallbackTimeout = %v, want 2m", cfg.FallbackTimeout)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMax != 30*time.Second {
		t.Fatalf("backoff defaults = %v/%v", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.BackoffMultiplier != 2.0 || cfg.BackoffJitter != 0.1 {
		t.Fatalf("backoff curve = %v/%v", cfg.BackoffMultiplier, cfg.BackoffJitter)
	}
	if cfg.BreakerThreshold != 5 || cfg.BreakerCooldown != 30*time.Second {
		t.Fatalf("breaker defaults = %d/%v", cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	if cfg.ShutdownGracePeriod != 15*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 15s", cfg.ShutdownGracePeriod)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearTutorEnv(t)
	t.Setenv("TUTOR_ADDR", ":9191")
	t.Setenv("TUTOR_LIVE_CONNECT_TIMEOUT", "3s")
	t.Setenv("TUTOR_LIVE_MAX_MESSAGE_BYTES", "4096")
	t.Setenv("TUTOR_VOICE_SAMPLE_RATE", "48000")
	t.Setenv("TUTOR_STORE", "memory")
	t.Setenv("TUTOR_DISPLAY_CAPACITY", "50")
	t.Setenv("TUTOR_RECOVERY_MAX_RETRIES", "3")
	t.Setenv("TUTOR_BACKOFF_MULTIPLIER", "1.5")
	t.Setenv("TUTOR_BREAKER_THRESHOLD", "2")
	t.Setenv("TUTOR_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9191" || cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("addr/timeout = %q/%v", cfg.Addr, cfg.ConnectTimeout)
	}
	if cfg.MaxMessageBytes != 4096 || cfg.VoiceSampleRate != 48000 {
		t.Fatalf("limits = %d/%d", cfg.MaxMessageBytes, cfg.VoiceSampleRate)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("Store = %q, want memory", cfg.Store)
	}
	if cfg.DisplayCapacity != 50 || cfg.MaxRetries != 3 {
		t.Fatalf("capacity/retries = %d/%d", cfg.DisplayCapacity, cfg.MaxRetries)
	}
	if cfg.BackoffMultiplier != 1.5 || cfg.BreakerThreshold != 2 {
		t.Fatalf("curve/threshold = %v/%d", cfg.BackoffMultiplier, cfg.BreakerThreshold)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFromEnv_RequiredAndBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "missing live url",
			env:       map[string]string{"TUTOR_LIVE_URL": ""},
			errSubstr: "TUTOR_LIVE_URL",
		},
		{
			name:      "missing voice url",
			env:       map[string]string{"TUTOR_VOICE_URL": ""},
			errSubstr: "TUTOR_VOICE_URL",
		},
		{
			name:      "missing voice api key",
			env:       map[string]string{"TUTOR_VOICE_API_KEY": ""},
			errSubstr: "TUTOR_VOICE_API_KEY",
		},
		{
			name:      "bad store kind",
			env:       map[string]string{"TUTOR_STORE": "postgres"},
			errSubstr: "TUTOR_STORE",
		},
		{
			name:      "zero connect timeout",
			env:       map[string]string{"TUTOR_LIVE_CONNECT_TIMEOUT": "0s"},
			errSubstr: "TUTOR_LIVE_CONNECT_TIMEOUT",
		},
		{
			name: "health timeout not past interval",
			env: map[string]string{
				"TUTOR_LIVE_HEALTH_INTERVAL": "20s",
				"TUTOR_LIVE_HEALTH_TIMEOUT":  "20s",
			},
			errSubstr: "TUTOR_LIVE_HEALTH_TIMEOUT",
		},
		{
			name:      "multiplier too small",
			env:       map[string]string{"TUTOR_BACKOFF_MULTIPLIER": "1.0"},
			errSubstr: "TUTOR_BACKOFF_MULTIPLIER",
		},
		{
			name:      "jitter out of range",
			env:       map[string]string{"TUTOR_BACKOFF_JITTER": "1.5"},
			errSubstr: "TUTOR_BACKOFF_JITTER",
		},
		{
			name:      "max below base",
			env:       map[string]string{"TUTOR_BACKOFF_BASE": "10s", "TUTOR_BACKOFF_MAX": "5s"},
			errSubstr: "TUTOR_BACKOFF_MAX",
		},
		{
			name:      "bad log level",
			env:       map[string]string{"TUTOR_LOG_LEVEL": "verbose"},
			errSubstr: "TUTOR_LOG_LEVEL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTutorEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestDefaultsConstructTransport(t *testing.T) {
	clearTutorEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	// The same wiring the composition root performs must accept the
	// shipped defaults.
	mgr, err := transport.NewManager(transport.Config{
		ConnectTimeout:    cfg.ConnectTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		HealthInterval:    cfg.HealthInterval,
		HealthTimeout:     cfg.HealthTimeout,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		OutboundQueueSize: cfg.OutboundQueueSize,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewManager with default config: %v", err)
	}
	_ = mgr.Close()
}

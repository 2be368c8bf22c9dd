// Command tutord runs the tutoring session gateway: the HTTP API, the
// live transport channel, the voice provider client, and the recovery
// manager, wired around a shared session orchestrator.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/backoff"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/breaker"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/display"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/voice"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/config"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/handlers"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/server"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/session"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/transport"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/store"
)

// sessionStore is the persistence surface tutord needs from either
// backend. *store.SQLite and *store.Memory both satisfy it.
type sessionStore interface {
	session.Store
	recovery.CheckpointStore
	Close() error
}

func openStore(cfg config.Config) (sessionStore, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	registry := transport.NewRegistry(func() (*transport.Manager, error) {
		return transport.NewManager(transport.Config{
			ConnectTimeout:    cfg.ConnectTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			HealthInterval:    cfg.HealthInterval,
			HealthTimeout:     cfg.HealthTimeout,
			MaxMessageBytes:   cfg.MaxMessageBytes,
			OutboundQueueSize: cfg.OutboundQueueSize,
		}, nil, logger, nil)
	})
	tr, err := registry.Get()
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer tr.Close()

	provider := voice.NewLiveClient()
	defer provider.Close()

	orch, err := session.NewOrchestrator(session.Config{
		Target: cfg.LiveURL,
		Voice: voice.Config{
			Endpoint:     cfg.VoiceURL,
			APIKey:       cfg.VoiceAPIKey,
			Language:     cfg.VoiceLanguage,
			SampleRateHz: cfg.VoiceSampleRate,
		},
		Display: display.Config{
			Capacity:    cfg.DisplayCapacity,
			DedupWindow: cfg.DisplayDedupWindow,
		},
	}, tr, provider, st, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer orch.Close()

	rec, err := recovery.New(recovery.Config{
		MaxRetries:         cfg.MaxRetries,
		AttemptTimeout:     cfg.AttemptTimeout,
		FallbackTimeout:    cfg.FallbackTimeout,
		CheckpointInterval: cfg.CheckpointInterval,
		NotifyDebounce:     cfg.NotifyDebounce,
		Backoff: backoff.Config{
			BaseDelay:  cfg.BackoffBase,
			MaxDelay:   cfg.BackoffMax,
			Multiplier: cfg.BackoffMultiplier,
			Jitter:     cfg.BackoffJitter,
		},
		Breaker: breaker.Config{
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
		},
	}, st, orch, orch, tr, logger)
	if err != nil {
		return fmt.Errorf("build recovery manager: %w", err)
	}
	defer rec.Close()
	orch.SetRecovery(rec)

	go func() {
		for n := range rec.Notifications() {
			logger.Info("learner notification",
				"session_id", n.SessionID,
				"type", n.Type,
				"severity", n.Severity,
				"message", n.Message)
		}
	}()

	srv := server.New(cfg, handlers.New(orch, rec, logger), logger)
	return srv.Run(ctx)
}

func runMain(stderr io.Writer) int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "tutord: load .env: %v\n", err)
		return 1
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "tutord: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tutord", "addr", cfg.Addr, "store", string(cfg.Store))
	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stderr, "tutord: %v\n", err)
		return 1
	}
	logger.Info("tutord stopped")
	return 0
}

func main() {
	os.Exit(runMain(os.Stderr))
}

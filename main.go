// Package main runs the seat watch service: it polls live seat counts for each
// configured event and manages the push notification opt-in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatwatch/config"
	"seatwatch/kv"
	"seatwatch/metrics"
	"seatwatch/pkg/seatwatch"
	"seatwatch/poll"
	"seatwatch/prefs"
	"seatwatch/push"
	"seatwatch/server"
	tokenstore "seatwatch/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry, closeRegistry, err := newTokenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	prefStore, closePrefs, err := newPreferenceStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePrefs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	dialog := &server.Dialog{}
	milestones := server.NewMilestoneQueue(100)

	provider, controller := newController(cfg, registry, prefStore, dialog, collector, logger)

	if err := controller.Reconcile(ctx); err != nil {
		// Stay disabled; the user can still opt in again.
		logger.Warn("Notification preference reconciliation failed", "error", err)
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	trackers := make([]*poll.Tracker, 0, len(cfg.EventList))
	for _, ev := range cfg.EventList {
		trackers = append(trackers, poll.New(ev, client, logger.With("component", "poll"),
			poll.WithInterval(cfg.PollInterval),
			poll.WithUpdateHandler(collector.ObserveSnapshot),
			poll.WithFailureHandler(collector.RecordPollFailure),
			poll.WithMilestoneHandler(func(m seatwatch.MilestoneEvent) {
				collector.RecordMilestone(m)
				milestones.Push(m)
			}),
		))
	}

	group := poll.NewGroup(trackers...)
	if err := group.StartAll(ctx); err != nil {
		return fmt.Errorf("start trackers: %w", err)
	}
	defer group.StopAll()

	srv := server.New(&server.Config{
		Seats:      group,
		Prefs:      controller,
		Dialog:     dialog,
		Milestones: milestones,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Device:     provider,
		Tokens:     registry,
		IsBusy:     func(err error) bool { return errors.Is(err, prefs.ErrTransitionInProgress) },
		Logger:     logger.With("component", "server"),
	})

	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// newController builds the preference controller around a simulated device. The configured
// permission is what the device already holds, so a restart keeps the grant.
func newController(cfg *config.Config, registry prefs.TokenRegistry, store prefs.KeyValueStore,
	messenger prefs.Messenger, recorder prefs.Recorder, logger *slog.Logger,
) (*push.LocalProvider, *prefs.Controller) {
	provider := push.NewLocalProvider(cfg.Decision, logger.With("component", "push"), push.WithStatus(cfg.Decision))
	controller := prefs.New(&prefs.Config{
		Provider:  provider,
		Prompter:  push.NewStaticPrompter(cfg.OSPermissionGranted, logger.With("component", "push")),
		Registry:  registry,
		Store:     store,
		Messenger: messenger,
		Recorder:  recorder,
		Logger:    logger.With("component", "prefs"),
		Options: prefs.Options{
			Platform:          cfg.Platform(),
			AnnounceReconcile: cfg.AnnounceReconcile,
		},
	})
	return provider, controller
}

// newTokenStore returns the remote token registry: a local directory in development,
// Cloud Storage otherwise.
func newTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tokenstore.Store, func(), error) {
	storeLogger := logger.With("component", "storage")

	if cfg.LocalStorage != "" {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		return tokenstore.New(nil, "", cfg.LocalStorage, storeLogger), func() {}, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	logger.Info("Using Cloud Storage for push tokens", "bucket", cfg.StorageBucket)
	return tokenstore.New(client, cfg.StorageBucket, "", storeLogger), closeFn, nil
}

func newPreferenceStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (prefs.KeyValueStore, func(), error) {
	kvLogger := logger.With("component", "kv")

	if cfg.PrefsBackend == config.PrefsRedis {
		store, err := kv.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, kvLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect preference store: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close redis client", "error", err)
			}
		}, nil
	}

	logger.Info("Using file preference store", "path", cfg.PrefsPath)
	return kv.NewFileStore(cfg.PrefsPath, kvLogger), func() {}, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"seatwatch/config"
	"seatwatch/metrics"
	"seatwatch/pkg/seatwatch"
	"seatwatch/prefs"
	"seatwatch/push"
	"seatwatch/server"
)

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:                "0",
		PollInterval:        10 * time.Millisecond,
		HTTPTimeout:         time.Second,
		LocalStorage:        filepath.Join(dir, "data"),
		PrefsBackend:        config.PrefsFile,
		PrefsPath:           filepath.Join(dir, "data", "device.json"),
		PlatformOS:          "android",
		PlatformVersion:     33,
		OSPermissionGranted: true,
		Decision:            push.Authorized,
		EventList: []seatwatch.Event{
			{Name: "Cryptic Hunt", Endpoint: endpoint, TotalSeats: 800},
		},
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	polled := make(chan struct{}, 1)
	seats := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case polled <- struct{}{}:
		default:
		}
		fmt.Fprint(w, `{"availableSeats": 750}`)
	}))
	defer seats.Close()

	cfg := testConfig(t, seats.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, logger) }()

	select {
	case <-polled:
	case <-time.After(3 * time.Second):
		t.Fatal("seat endpoint was never polled")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(cfg.LocalStorage); err != nil {
		t.Errorf("local storage directory not created: %v", err)
	}
}

func TestNewPreferenceStoreFile(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, closeFn, err := newPreferenceStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newPreferenceStore() error = %v", err)
	}
	defer closeFn()

	ctx := context.Background()
	if err := store.Set(ctx, "notificationsEnabled", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := os.Stat(cfg.PrefsPath); err != nil {
		t.Errorf("preferences file not written: %v", err)
	}
}

func TestNewTokenStoreLocal(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, closeFn, err := newTokenStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newTokenStore() error = %v", err)
	}
	defer closeFn()

	ctx := context.Background()
	if err := store.Register(ctx, "abc-123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := store.Load(ctx, "abc-123"); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

// startSession builds a controller the way run does, over the stores configured in cfg.
func startSession(t *testing.T, cfg *config.Config) (*prefs.Controller, *server.Dialog, func(context.Context) []*seatwatch.TokenRecord) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, closeRegistry, err := newTokenStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("newTokenStore() error = %v", err)
	}
	t.Cleanup(closeRegistry)
	store, closeStore, err := newPreferenceStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("newPreferenceStore() error = %v", err)
	}
	t.Cleanup(closeStore)

	dialog := &server.Dialog{}
	_, controller := newController(cfg, registry, store, dialog, metrics.New(prometheus.NewRegistry()), logger)
	list := func(ctx context.Context) []*seatwatch.TokenRecord {
		recs, err := registry.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		return recs
	}
	return controller, dialog, list
}

func TestPreferenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "http://unused.invalid")

	first, _, _ := startSession(t, cfg)
	if err := first.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if first.State() != prefs.Enabled {
		t.Fatalf("State() = %v, want enabled", first.State())
	}

	second, _, list := startSession(t, cfg)
	if err := second.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if second.State() != prefs.Enabled {
		t.Errorf("State() after restart = %v, want enabled", second.State())
	}

	recs := list(ctx)
	if len(recs) != 1 || recs[0].Token != second.Current().Token {
		t.Errorf("registered tokens = %+v, want only the current token %q", recs, second.Current().Token)
	}
}

func TestRevokedPermissionDisablesAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "http://unused.invalid")

	first, _, _ := startSession(t, cfg)
	if err := first.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	cfg.Decision = push.Denied
	cfg.AnnounceReconcile = true
	second, dialog, list := startSession(t, cfg)
	if err := second.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if second.State() != prefs.Disabled {
		t.Errorf("State() after revocation = %v, want disabled", second.State())
	}
	if got := dialog.Current().Message; got != prefs.MsgRevoked {
		t.Errorf("dialog message = %q, want %q", got, prefs.MsgRevoked)
	}
	if recs := list(ctx); len(recs) != 0 {
		t.Errorf("registered tokens = %+v, want none", recs)
	}

	third, _, _ := startSession(t, cfg)
	if err := third.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if third.State() != prefs.Disabled {
		t.Errorf("State() on the next start = %v, want disabled", third.State())
	}
}

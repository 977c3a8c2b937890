// Package server exposes seat counters and the notification toggle over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"seatwatch/pkg/seatwatch"
	"seatwatch/push"
	"seatwatch/storage"
)

// Seats provides the latest seat snapshots.
type Seats interface {
	Events() []seatwatch.Event
	Snapshots() []seatwatch.Snapshot
}

// Preferences is the notification preference controller.
type Preferences interface {
	Toggle(ctx context.Context) error
	Reconcile(ctx context.Context) error
	Current() seatwatch.Preference
	Label() string
}

// Device changes the simulated device's push permission, as the user would in OS settings.
type Device interface {
	SetStatus(status push.AuthorizationStatus)
}

// Tokens reads the remote token registry.
type Tokens interface {
	Load(ctx context.Context, token string) (*seatwatch.TokenRecord, error)
	List(ctx context.Context) ([]*seatwatch.TokenRecord, error)
}

// IsBusy checks if an error means a preference transition is already running.
type IsBusy func(error) bool

// Server handles HTTP requests.
type Server struct {
	seats      Seats
	prefs      Preferences
	dialog     *Dialog
	milestones *MilestoneQueue
	metrics    http.Handler
	device     Device
	tokens     Tokens
	limiter    *rateLimiter
	isBusy     IsBusy
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Seats      Seats
	Prefs      Preferences
	Dialog     *Dialog
	Milestones *MilestoneQueue
	Metrics    http.Handler
	Device     Device
	Tokens     Tokens
	IsBusy     IsBusy
	Logger     *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		seats:      cfg.Seats,
		prefs:      cfg.Prefs,
		dialog:     cfg.Dialog,
		milestones: cfg.Milestones,
		metrics:    cfg.Metrics,
		device:     cfg.Device,
		tokens:     cfg.Tokens,
		limiter:    newRateLimiter(10, time.Minute),
		isBusy:     cfg.IsBusy,
		logger:     cfg.Logger,
	}
}

// Handler returns the router for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /seats", s.handleSeats)
	mux.HandleFunc("GET /milestones", s.handleMilestones)
	mux.HandleFunc("GET /notifications", s.handleNotifications)
	mux.HandleFunc("POST /notifications/toggle", s.handleToggle)
	mux.HandleFunc("POST /notifications/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /dialog", s.handleDialog)
	mux.HandleFunc("POST /dialog/dismiss", s.handleDismiss)
	if s.device != nil {
		mux.HandleFunc("POST /device/permission", s.handleDevicePermission)
	}
	if s.tokens != nil {
		mux.HandleFunc("GET /tokens", s.handleTokens)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return server.Shutdown(shutdownCtx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type seatView struct {
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Event          string     `json:"event"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	FilledSeats    int        `json:"filled_seats"`
	FillPercent    float64    `json:"fill_percent"`
}

// handleSeats lists every event; events not polled yet show zero filled and full availability.
func (s *Server) handleSeats(w http.ResponseWriter, r *http.Request) {
	latest := make(map[string]seatwatch.Snapshot)
	for _, snap := range s.seats.Snapshots() {
		latest[snap.Event] = snap
	}

	events := s.seats.Events()
	views := make([]seatView, 0, len(events))
	for _, ev := range events {
		view := seatView{
			Event:          ev.Name,
			TotalSeats:     ev.TotalSeats,
			AvailableSeats: ev.TotalSeats,
		}
		if snap, ok := latest[ev.Name]; ok {
			updated := snap.UpdatedAt
			view.UpdatedAt = &updated
			view.AvailableSeats = snap.AvailableSeats
			view.FilledSeats = snap.FilledSeats
			view.FillPercent = snap.FillPercent()
		}
		views = append(views, view)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"milestones": s.milestones.Drain()})
}

type notificationView struct {
	Registered *bool  `json:"registered,omitempty"`
	Label      string `json:"label"`
	Message    string `json:"message,omitempty"`
	Enabled    bool   `json:"enabled"`
}

func (s *Server) notificationState(ctx context.Context) notificationView {
	pref := s.prefs.Current()
	view := notificationView{
		Enabled: pref.Enabled,
		Label:   s.prefs.Label(),
	}
	if s.tokens == nil || pref.Token == "" {
		return view
	}

	_, err := s.tokens.Load(ctx, pref.Token)
	switch {
	case err == nil:
		registered := true
		view.Registered = &registered
	case storage.IsNotFound(err):
		registered := false
		view.Registered = &registered
	default:
		s.logger.Warn("Failed to check push token registration", "error", err)
	}
	return view
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.notificationState(r.Context()))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, "toggle", s.prefs.Toggle)
}

// handleReconcile re-checks the stored preference against the device permission,
// as the app does when it returns to the foreground.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, "reconcile", s.prefs.Reconcile)
}

func (s *Server) runTransition(w http.ResponseWriter, r *http.Request, name string, transition func(context.Context) error) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	err := transition(r.Context())
	if err != nil && s.isBusy != nil && s.isBusy(err) {
		http.Error(w, "A notification change is already in progress.", http.StatusConflict)
		return
	}
	if err != nil {
		// The controller has already informed the user through the dialog.
		s.logger.Info("Notification transition did not complete", "transition", name, "error", err)
	}

	view := s.notificationState(r.Context())
	if d := s.dialog.Current(); d.Visible {
		view.Message = d.Message
	}
	s.writeJSON(w, http.StatusOK, view)
}

type permissionRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleDevicePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, err := push.ParseAuthorizationStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.device.SetStatus(status)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status.String()})
}

type tokenView struct {
	RegisteredAt time.Time `json:"registered_at"`
	TokenPrefix  string    `json:"token_prefix"`
}

// handleTokens lists registered tokens, truncated so full tokens never leave the store.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tokens.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list push tokens", "error", err)
		http.Error(w, "Failed to list push tokens", http.StatusInternalServerError)
		return
	}

	views := make([]tokenView, 0, len(recs))
	for _, rec := range recs {
		prefix := rec.Token
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		views = append(views, tokenView{RegisteredAt: rec.RegisteredAt, TokenPrefix: prefix})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "tokens": views})
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dialog.Current())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.dialog.Dismiss()
	s.writeJSON(w, http.StatusOK, s.dialog.Current())
}

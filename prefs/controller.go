// Package prefs owns the notification opt-in state and the permission, token and
// persistence side effects that keep it trustworthy.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"seatwatch/pkg/seatwatch"
	"seatwatch/push"
)

// PreferenceKey is the local storage key holding the enabled flag.
const PreferenceKey = "notificationsEnabled"

// TokenKey is the local storage key holding the last registered push token,
// so a later session can remove its remote record.
const TokenKey = "pushToken"

const enabledValue = "true"

// Dialog messages shown to the user.
const (
	MsgGranted       = "Notification permission granted."
	MsgDenied        = "Notification permission denied."
	MsgDisabled      = "Notifications have been disabled."
	MsgEnableFailed  = "An error occurred while enabling notifications."
	MsgDisableFailed = "An error occurred while disabling notifications."
	MsgRevoked       = "Notifications were turned off because permission was revoked."
)

var (
	// ErrPermissionDenied is returned when the OS or the push provider refuses permission.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrTransitionInProgress is returned when a transition is requested while another runs.
	ErrTransitionInProgress = errors.New("notification preference transition in progress")
)

// PushProvider issues and revokes push tokens.
type PushProvider interface {
	HasPermission(ctx context.Context) (push.AuthorizationStatus, error)
	RequestPermission(ctx context.Context) (push.AuthorizationStatus, error)
	Token(ctx context.Context) (string, error)
	DeleteToken(ctx context.Context) error
}

// PermissionPrompter asks the OS for the runtime notification permission.
type PermissionPrompter interface {
	RequestPostNotifications(ctx context.Context) (bool, error)
}

// TokenRegistry is the remote document store keyed by token.
type TokenRegistry interface {
	Register(ctx context.Context, token string) error
	Deregister(ctx context.Context, token string) error
}

// KeyValueStore is local device storage.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Messenger shows a message to the user.
type Messenger interface {
	Show(message string)
}

// Recorder observes completed transitions.
type Recorder interface {
	RecordTransition(transition, result string)
}

// State is the controller state.
type State int

// Controller states. The controller is always in exactly one of them.
const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Options configures optional controller behavior.
type Options struct {
	Platform push.Platform
	// AnnounceReconcile shows MsgRevoked when startup reconciliation disables notifications.
	AnnounceReconcile bool
}

// Config holds controller dependencies.
type Config struct {
	Provider  PushProvider
	Prompter  PermissionPrompter
	Registry  TokenRegistry
	Store     KeyValueStore
	Messenger Messenger
	Recorder  Recorder
	Logger    *slog.Logger
	Options   Options
}

// Controller is the single source of truth for whether notifications are enabled.
type Controller struct {
	provider  PushProvider
	prompter  PermissionPrompter
	registry  TokenRegistry
	store     KeyValueStore
	messenger Messenger
	recorder  Recorder
	logger    *slog.Logger
	token     string
	opts      Options
	state     State
	mu        sync.Mutex
	busy      bool
}

// New creates a controller in the Disabled state. Call Reconcile at startup.
func New(cfg *Config) *Controller {
	return &Controller{
		provider:  cfg.Provider,
		prompter:  cfg.Prompter,
		registry:  cfg.Registry,
		store:     cfg.Store,
		messenger: cfg.Messenger,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		opts:      cfg.Options,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the current preference.
func (c *Controller) Current() seatwatch.Preference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seatwatch.Preference{Enabled: c.state == Enabled, Token: c.token}
}

// Label returns the toggle control label for the current state.
func (c *Controller) Label() string {
	if c.State() == Enabled {
		return "Disable Notifications"
	}
	return "Enable Notifications"
}

// begin claims the transition slot and returns the state it started from.
func (c *Controller) begin() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return c.state, ErrTransitionInProgress
	}
	c.busy = true
	return c.state, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) set(state State, token string) {
	c.mu.Lock()
	c.state = state
	c.token = token
	c.mu.Unlock()
}

func (c *Controller) show(msg string) {
	if c.messenger != nil {
		c.messenger.Show(msg)
	}
}

func (c *Controller) record(transition string, err error) {
	if c.recorder == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrPermissionDenied):
		result = "denied"
	case err != nil:
		result = "error"
	}
	c.recorder.RecordTransition(transition, result)
}

// Toggle enables notifications when disabled and disables them when enabled.
func (c *Controller) Toggle(ctx context.Context) error {
	from, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	if from == Enabled {
		return c.disable(ctx, true)
	}
	return c.enable(ctx)
}

// Enable walks the permission, token, registration and persistence steps.
// Any failure leaves the controller Disabled with nothing persisted locally.
func (c *Controller) Enable(ctx context.Context) error {
	from, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	if from == Enabled {
		return nil
	}
	return c.enable(ctx)
}

// Disable releases the token and clears persisted state. Remote failures are logged
// and never block the local transition; only a local storage failure is returned.
func (c *Controller) Disable(ctx context.Context, showMessage bool) error {
	if _, err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	return c.disable(ctx, showMessage)
}

func (c *Controller) enable(ctx context.Context) error {
	err := c.runEnable(ctx)
	c.record("enable", err)
	return err
}

func (c *Controller) runEnable(ctx context.Context) error {
	if c.opts.Platform.RequiresRuntimePermission() {
		granted, err := c.prompter.RequestPostNotifications(ctx)
		if err != nil {
			c.logger.Warn("Error requesting POST_NOTIFICATIONS permission", "error", err)
			c.show(MsgEnableFailed)
			return fmt.Errorf("request os permission: %w", err)
		}
		if !granted {
			c.logger.Info("OS notification permission denied")
			c.show(MsgDenied)
			return ErrPermissionDenied
		}
	}

	status, err := c.provider.RequestPermission(ctx)
	if err != nil {
		c.logger.Error("Error requesting push notification permission", "error", err)
		c.show(MsgEnableFailed)
		return fmt.Errorf("request push permission: %w", err)
	}
	if !status.Granted() {
		c.logger.Info("Push notification permission denied", "status", status.String())
		c.show(MsgDenied)
		return ErrPermissionDenied
	}

	token, err := c.provider.Token(ctx)
	if err != nil {
		c.logger.Error("Error getting push token", "error", err)
		c.show(MsgEnableFailed)
		return fmt.Errorf("get push token: %w", err)
	}

	if err := c.registry.Register(ctx, token); err != nil {
		c.logger.Error("Error storing push token", "error", err)
		c.releaseToken(ctx)
		c.show(MsgEnableFailed)
		return fmt.Errorf("register push token: %w", err)
	}

	if err := c.persist(ctx, token); err != nil {
		c.logger.Error("Error persisting notification preference", "error", err)
		if derr := c.registry.Deregister(ctx, token); derr != nil {
			c.logger.Warn("Failed to roll back push token registration", "error", derr)
		}
		c.releaseToken(ctx)
		c.show(MsgEnableFailed)
		return fmt.Errorf("persist preference: %w", err)
	}

	c.set(Enabled, token)
	c.logger.Info("Notifications enabled", "status", status.String())
	c.show(MsgGranted)
	return nil
}

// persist stores the token before the flag so an enabled flag always has a token beside it.
func (c *Controller) persist(ctx context.Context, token string) error {
	if err := c.store.Set(ctx, TokenKey, token); err != nil {
		return err
	}
	if err := c.store.Set(ctx, PreferenceKey, enabledValue); err != nil {
		if rerr := c.store.Remove(ctx, TokenKey); rerr != nil {
			c.logger.Warn("Failed to clear stored push token", "error", rerr)
		}
		return err
	}
	return nil
}

func (c *Controller) releaseToken(ctx context.Context) {
	if err := c.provider.DeleteToken(ctx); err != nil {
		c.logger.Warn("Failed to delete push token", "error", err)
	}
}

// storedToken returns the token persisted by an earlier session, or "".
func (c *Controller) storedToken(ctx context.Context) string {
	token, ok, err := c.store.Get(ctx, TokenKey)
	if err != nil {
		c.logger.Warn("Error reading stored push token", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

func (c *Controller) disable(ctx context.Context, showMessage bool) error {
	err := c.runDisable(ctx)
	c.record("disable", err)
	if showMessage {
		if err != nil {
			c.show(MsgDisableFailed)
		} else {
			c.show(MsgDisabled)
		}
	}
	return err
}

func (c *Controller) runDisable(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		token = c.storedToken(ctx)
	}

	c.releaseToken(ctx)
	if token != "" {
		if err := c.registry.Deregister(ctx, token); err != nil {
			c.logger.Warn("Failed to remove push token from store", "error", err)
		}
	}

	c.set(Disabled, "")

	if err := c.store.Remove(ctx, PreferenceKey); err != nil {
		c.logger.Error("Error clearing notification preference", "error", err)
		return fmt.Errorf("clear preference: %w", err)
	}
	if err := c.store.Remove(ctx, TokenKey); err != nil {
		c.logger.Warn("Failed to clear stored push token", "error", err)
	}

	c.logger.Info("Notifications disabled")
	return nil
}

// Reconcile validates a persisted enabled flag against live permission state at startup.
// A revoked permission or unavailable token transitions to Disabled and clears the flag.
func (c *Controller) Reconcile(ctx context.Context) error {
	if _, err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	stored, ok, err := c.store.Get(ctx, PreferenceKey)
	if err != nil {
		c.logger.Error("Error reading notification preference", "error", err)
		return fmt.Errorf("read preference: %w", err)
	}
	if !ok || stored != enabledValue {
		c.logger.Info("Notification preference not set, staying disabled")
		return nil
	}

	status, err := c.provider.HasPermission(ctx)
	if err != nil {
		c.logger.Error("Error checking notification permission status", "error", err)
		status = push.Denied
	}
	if !status.Granted() {
		c.logger.Info("Notification permission revoked, disabling", "status", status.String())
		return c.silentDisable(ctx)
	}

	token, err := c.provider.Token(ctx)
	if err != nil || token == "" {
		c.logger.Warn("Push token unavailable during reconciliation, disabling", "error", err)
		return c.silentDisable(ctx)
	}

	// The token may have rotated since the last session.
	if err := c.registry.Register(ctx, token); err != nil {
		c.logger.Warn("Failed to refresh push token registration", "error", err)
	}
	if previous := c.storedToken(ctx); previous != token {
		if previous != "" {
			if err := c.registry.Deregister(ctx, previous); err != nil {
				c.logger.Warn("Failed to remove rotated push token from store", "error", err)
			}
		}
		if err := c.store.Set(ctx, TokenKey, token); err != nil {
			c.logger.Warn("Failed to store push token", "error", err)
		}
	}

	c.set(Enabled, token)
	c.record("reconcile", nil)
	c.logger.Info("Notification preference restored", "status", status.String())
	return nil
}

func (c *Controller) silentDisable(ctx context.Context) error {
	err := c.disable(ctx, false)
	if c.opts.AnnounceReconcile {
		c.show(MsgRevoked)
	}
	return err
}

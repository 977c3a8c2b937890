// Package push models the device-side push messaging collaborators: the push
// provider that issues tokens and the OS notification permission prompt.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AuthorizationStatus is the push provider's permission state.
type AuthorizationStatus int

// Authorization states reported by the push provider.
const (
	NotDetermined AuthorizationStatus = iota
	Denied
	Authorized
	Provisional
)

func (s AuthorizationStatus) String() string {
	switch s {
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	case Provisional:
		return "provisional"
	default:
		return "not_determined"
	}
}

// Granted reports whether the status allows delivering notifications.
func (s AuthorizationStatus) Granted() bool {
	return s == Authorized || s == Provisional
}

// ParseAuthorizationStatus parses the names produced by String.
func ParseAuthorizationStatus(s string) (AuthorizationStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "not_determined":
		return NotDetermined, nil
	case "denied":
		return Denied, nil
	case "authorized":
		return Authorized, nil
	case "provisional":
		return Provisional, nil
	}
	return NotDetermined, fmt.Errorf("unknown authorization status %q", s)
}

// Platform identifies the operating system the client runs on.
type Platform struct {
	OS      string
	Version int
}

// postNotificationsAPILevel is the first Android API level with a runtime notification permission.
const postNotificationsAPILevel = 33

// RequiresRuntimePermission reports whether posting notifications needs an OS prompt first.
func (p Platform) RequiresRuntimePermission() bool {
	return strings.EqualFold(p.OS, "android") && p.Version >= postNotificationsAPILevel
}

// ErrNoToken is returned when a token is requested without permission.
var ErrNoToken = errors.New("push: no token available without permission")

// LocalProvider simulates a device push provider for local development.
// Permission requests resolve to a configured decision and tokens are random UUIDs.
type LocalProvider struct {
	logger   *slog.Logger
	token    string
	status   AuthorizationStatus
	decision AuthorizationStatus // Status a permission request resolves to
	mu       sync.Mutex
}

// ProviderOption configures a LocalProvider.
type ProviderOption func(*LocalProvider)

// WithStatus starts the provider with a permission the device already holds,
// as after a restart once the user has answered the prompt.
func WithStatus(status AuthorizationStatus) ProviderOption {
	return func(p *LocalProvider) {
		p.status = status
	}
}

// NewLocalProvider creates a provider whose permission requests resolve to decision.
func NewLocalProvider(decision AuthorizationStatus, logger *slog.Logger, opts ...ProviderOption) *LocalProvider {
	p := &LocalProvider{
		logger:   logger,
		decision: decision,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasPermission returns the current authorization status without prompting.
func (p *LocalProvider) HasPermission(ctx context.Context) (AuthorizationStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

// RequestPermission prompts for permission. Once decided, the status is sticky.
func (p *LocalProvider) RequestPermission(ctx context.Context) (AuthorizationStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == NotDetermined {
		p.status = p.decision
	}
	p.logger.Info("Push permission requested", "status", p.status.String())
	return p.status, nil
}

// SetStatus overrides the authorization status, as when the user changes OS settings.
func (p *LocalProvider) SetStatus(status AuthorizationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	if !status.Granted() {
		p.token = ""
	}
	p.logger.Info("Push permission changed", "status", status.String())
}

// Token returns the device token, issuing one if needed.
func (p *LocalProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.Granted() {
		return "", ErrNoToken
	}
	if p.token == "" {
		p.token = uuid.NewString()
		p.logger.Info("Push token issued", "token_prefix", p.token[:8])
	}
	return p.token, nil
}

// DeleteToken invalidates the current token. The next Token call issues a new one.
func (p *LocalProvider) DeleteToken(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return nil
}

// StaticPrompter answers the OS notification permission prompt from configuration.
type StaticPrompter struct {
	logger  *slog.Logger
	granted bool
}

// NewStaticPrompter creates a prompter that answers every prompt with granted.
func NewStaticPrompter(granted bool, logger *slog.Logger) *StaticPrompter {
	return &StaticPrompter{granted: granted, logger: logger}
}

// RequestPostNotifications resolves the OS prompt.
func (p *StaticPrompter) RequestPostNotifications(ctx context.Context) (bool, error) {
	p.logger.Info("OS notification permission requested", "granted", p.granted)
	return p.granted, nil
}

package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestAuthorizationStatusGranted(t *testing.T) {
	tests := []struct {
		status AuthorizationStatus
		want   bool
	}{
		{NotDetermined, false},
		{Denied, false},
		{Authorized, true},
		{Provisional, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Granted(); got != tt.want {
				t.Errorf("Granted() = %v, want %v", got, tt.want)
			}
			parsed, err := ParseAuthorizationStatus(tt.status.String())
			if err != nil || parsed != tt.status {
				t.Errorf("ParseAuthorizationStatus(%q) = %v, %v", tt.status.String(), parsed, err)
			}
		})
	}

	if _, err := ParseAuthorizationStatus("maybe"); err == nil {
		t.Error("ParseAuthorizationStatus(\"maybe\") should fail")
	}
}

func TestRequiresRuntimePermission(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		want     bool
	}{
		{"android 13", Platform{OS: "android", Version: 33}, true},
		{"android 14", Platform{OS: "Android", Version: 34}, true},
		{"android 12", Platform{OS: "android", Version: 32}, false},
		{"ios", Platform{OS: "ios", Version: 17}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.platform.RequiresRuntimePermission(); got != tt.want {
				t.Errorf("RequiresRuntimePermission() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(Authorized, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := p.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Token() before permission error = %v, want ErrNoToken", err)
	}

	status, err := p.RequestPermission(ctx)
	if err != nil || status != Authorized {
		t.Fatalf("RequestPermission() = %v, %v", status, err)
	}

	first, err := p.Token(ctx)
	if err != nil || first == "" {
		t.Fatalf("Token() = %q, %v", first, err)
	}
	again, _ := p.Token(ctx)
	if again != first {
		t.Errorf("Token() changed without DeleteToken: %q != %q", again, first)
	}

	if err := p.DeleteToken(ctx); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	rotated, _ := p.Token(ctx)
	if rotated == first {
		t.Error("Token() after DeleteToken returned the deleted token")
	}

	p.SetStatus(Denied)
	if status, _ := p.HasPermission(ctx); status != Denied {
		t.Errorf("HasPermission() = %v, want denied", status)
	}
	if _, err := p.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() after revocation error = %v, want ErrNoToken", err)
	}
}

func TestLocalProviderWithStatus(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name      string
		status    AuthorizationStatus
		wantToken bool
	}{
		{"previously authorized", Authorized, true},
		{"previously provisional", Provisional, true},
		{"previously denied", Denied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewLocalProvider(Authorized, logger, WithStatus(tt.status))

			status, err := p.HasPermission(ctx)
			if err != nil || status != tt.status {
				t.Fatalf("HasPermission() = %v, %v, want %v", status, err, tt.status)
			}
			token, err := p.Token(ctx)
			if got := err == nil && token != ""; got != tt.wantToken {
				t.Errorf("Token() = %q, %v, want token %v", token, err, tt.wantToken)
			}
			if status, _ := p.RequestPermission(ctx); status != tt.status {
				t.Errorf("RequestPermission() = %v, want the existing %v", status, tt.status)
			}
		})
	}
}

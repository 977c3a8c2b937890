package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	s := New(nil, "", t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2025, 10, 13, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestTokenKey(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"uuid token", "3f0c2a9e-7b1d-4e8a-9c2f-1a2b3c4d5e6f", "pushTokens/3f0c2a9e-7b1d-4e8a-9c2f-1a2b3c4d5e6f.json"},
		{"fcm style token", "dGVzdA:APA91bH_x-y", "pushTokens/dGVzdA:APA91bH_x-y.json"},
		{"empty", "", ""},
		{"path traversal", "../../etc/passwd", ""},
		{"slash", "a/b", ""},
		{"too long", strings.Repeat("a", maxToken+1), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenKey(tt.token); got != tt.want {
				t.Errorf("TokenKey(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestLocalRegisterLoadDeregister(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)
	token := "3f0c2a9e-7b1d-4e8a-9c2f-1a2b3c4d5e6f"

	if err := s.Register(ctx, token); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec, err := s.Load(ctx, token)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Token != token {
		t.Errorf("Load() token = %q, want %q", rec.Token, token)
	}
	if !rec.RegisteredAt.Equal(s.now()) {
		t.Errorf("Load() registered_at = %v, want %v", rec.RegisteredAt, s.now())
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(recs))
	}

	if err := s.Deregister(ctx, token); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, err := s.Load(ctx, token); !IsNotFound(err) {
		t.Errorf("Load() after Deregister error = %v, want not found", err)
	}
}

func TestLocalDeregisterUnknownToken(t *testing.T) {
	s := newLocalStore(t)
	if err := s.Deregister(context.Background(), "never-registered"); err != nil {
		t.Errorf("Deregister() of unknown token error = %v, want nil", err)
	}
}

func TestRejectsInvalidToken(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)
	if err := s.Register(ctx, "../escape"); err == nil {
		t.Error("Register() accepted a path traversal token")
	}
	if err := s.Deregister(ctx, ""); err == nil {
		t.Error("Deregister() accepted an empty token")
	}
}

func TestLocalListEmpty(t *testing.T) {
	recs, err := newLocalStore(t).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("List() returned %d records, want 0", len(recs))
	}
}

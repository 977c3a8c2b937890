// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"seatwatch/pkg/seatwatch"
	"seatwatch/push"
)

const envPrefix = "SEATWATCH"

// Preference store backends.
const (
	PrefsFile  = "file"
	PrefsRedis = "redis"
)

// Config represents the service configuration.
// Every key may be given with or without the SEATWATCH_ prefix.
type Config struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	Events       []string      `envconfig:"EVENTS" default:"Cryptic Hunt|https://track.cryptichunt.in/seats1|800,Codex Cryptum|https://track.cryptichunt.in/seats2|120"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	StorageBucket string `envconfig:"STORAGE_BUCKET"`
	LocalStorage  string `envconfig:"LOCAL_STORAGE"`

	PrefsBackend  string `envconfig:"PREFS_BACKEND" default:"file"`
	PrefsPath     string `envconfig:"PREFS_PATH"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"seatwatch:"`

	PlatformOS          string `envconfig:"PLATFORM_OS" default:"android"`
	PlatformVersion     int    `envconfig:"PLATFORM_VERSION" default:"33"`
	PushPermission      string `envconfig:"PUSH_PERMISSION" default:"authorized"`
	OSPermissionGranted bool   `envconfig:"OS_PERMISSION_GRANTED" default:"true"`
	AnnounceReconcile   bool   `envconfig:"ANNOUNCE_RECONCILE" default:"false"`

	EventList []seatwatch.Event        `ignored:"true"`
	Decision  push.AuthorizationStatus `ignored:"true"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	// No bucket and no local path means local development mode.
	if c.StorageBucket == "" && c.LocalStorage == "" {
		c.LocalStorage = "./data"
	}
	if c.PrefsPath == "" {
		dir := c.LocalStorage
		if dir == "" {
			dir = "."
		}
		c.PrefsPath = filepath.Join(dir, "device.json")
	}

	events, err := ParseEvents(c.Events)
	if err != nil {
		return err
	}
	c.EventList = events

	c.Decision, err = push.ParseAuthorizationStatus(c.PushPermission)
	if err != nil {
		return fmt.Errorf("PUSH_PERMISSION: %w", err)
	}

	return c.validate()
}

func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %q", c.Port)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}
	switch c.PrefsBackend {
	case PrefsFile, PrefsRedis:
	default:
		return fmt.Errorf("PREFS_BACKEND must be %q or %q, got %q", PrefsFile, PrefsRedis, c.PrefsBackend)
	}
	return nil
}

// Platform returns the configured client platform.
func (c *Config) Platform() push.Platform {
	return push.Platform{OS: c.PlatformOS, Version: c.PlatformVersion}
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseEvents parses "name|endpoint|totalSeats" entries.
func ParseEvents(specs []string) ([]seatwatch.Event, error) {
	if len(specs) == 0 {
		return nil, errors.New("EVENTS must list at least one event")
	}

	events := make([]seatwatch.Event, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("event %q: want name|endpoint|totalSeats", spec)
		}

		name := strings.TrimSpace(parts[0])
		endpoint := strings.TrimSpace(parts[1])
		if name == "" {
			return nil, fmt.Errorf("event %q: empty name", spec)
		}
		if seen[name] {
			return nil, fmt.Errorf("event %q: duplicate name", name)
		}
		seen[name] = true

		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("event %q: endpoint must be an http(s) URL", name)
		}

		total, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || total <= 0 {
			return nil, fmt.Errorf("event %q: totalSeats must be a positive integer", name)
		}

		events = append(events, seatwatch.Event{Name: name, Endpoint: endpoint, TotalSeats: total})
	}
	return events, nil
}

// Package storage handles persistence of push tokens in the remote document store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"seatwatch/pkg/seatwatch"
)

const (
	collection = "pushTokens"
	maxToken   = 4096
)

// ErrNotFound indicates no record is registered for a token.
var ErrNotFound = errors.New("storage: object doesn't exist")

// Store handles token persistence in Cloud Storage, or in a local directory for development.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	now       func() time.Time
	localPath string
	bucket    string
}

// New creates a new storage handler. A non-empty localPath takes precedence over the bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		now:       time.Now,
		localPath: localPath,
		bucket:    bucket,
	}
}

// TokenKey returns the object key for a token, or "" if the token is unsafe to use as a key.
func TokenKey(token string) string {
	if token == "" || len(token) > maxToken {
		return ""
	}
	for _, c := range token {
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			c == '-' || c == '_' || c == ':'
		if !ok {
			return ""
		}
	}
	return path.Join(collection, token+".json")
}

func retryOptions(ctx context.Context, logger *slog.Logger, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			logger.Info("Retrying storage operation after error", "operation", op, "attempt", n, "key", key, "error", retryErr)
		}),
	}
}

// Register writes the token record, keyed by the token itself. Registering twice overwrites.
func (s *Store) Register(ctx context.Context, token string) error {
	key := TokenKey(token)
	if key == "" {
		return errors.New("invalid token format")
	}

	data, err := json.MarshalIndent(seatwatch.TokenRecord{Token: token, RegisteredAt: s.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("Push token registered in local storage", "path", filePath)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(ctx, s.logger, "register", key)...,
	)
	if err != nil {
		return fmt.Errorf("register after retries: %w", err)
	}

	s.logger.Info("Push token registered", "key", key)
	return nil
}

// Deregister removes the token record. Removing an absent record is not an error.
func (s *Store) Deregister(ctx context.Context, token string) error {
	key := TokenKey(token)
	if key == "" {
		return errors.New("invalid token format")
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Push token deregistered from local storage", "path", filePath)
		return nil
	}

	var notFound bool
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Deletion is idempotent, don't retry a missing object.
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retryOptions(ctx, s.logger, "deregister", key)...,
	)
	if err != nil && !notFound {
		return fmt.Errorf("deregister after retries: %w", err)
	}

	s.logger.Info("Push token deregistered", "key", key)
	return nil
}

// Load reads the record registered for a token.
func (s *Store) Load(ctx context.Context, token string) (*seatwatch.TokenRecord, error) {
	key := TokenKey(token)
	if key == "" {
		return nil, ErrNotFound
	}
	return s.load(ctx, key)
}

func (s *Store) load(ctx context.Context, key string) (*seatwatch.TokenRecord, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, filepath.FromSlash(key)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var notFound bool
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						notFound = true
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retryOptions(ctx, s.logger, "load", key)...,
		)
		if notFound {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var rec seatwatch.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal token record: %w", err)
	}
	return &rec, nil
}

// List returns every registered token record.
func (s *Store) List(ctx context.Context) ([]*seatwatch.TokenRecord, error) {
	var recs []*seatwatch.TokenRecord

	if s.localPath != "" {
		entries, err := os.ReadDir(filepath.Join(s.localPath, collection))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			rec, err := s.load(ctx, path.Join(collection, entry.Name()))
			if err != nil {
				s.logger.Warn("Failed to load token record", "file", entry.Name(), "error", err)
				continue
			}
			recs = append(recs, rec)
		}
		return recs, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: collection + "/",
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		rec, err := s.load(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load token record", "key", attrs.Name, "error", err)
			continue
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

// IsNotFound checks if an error indicates a token record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

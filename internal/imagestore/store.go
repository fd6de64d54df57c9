// SPDX-License-Identifier: MIT

// Package imagestore keeps rendered chart images for later retrieval.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = errors.New("image not found")
	ErrInvalidID = errors.New("invalid image id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Image is one rendered chart.
type Image struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Stats holds store counters.
type Stats struct {
	Hits        int64 // Number of successful Get operations
	Misses      int64 // Number of failed Get operations (not found or expired)
	Puts        int64 // Number of Put operations
	Evictions   int64 // Number of expired entries cleaned up
	CurrentSize int   // Current number of stored images
}

// Store persists images by chart request id.
type Store interface {
	Put(ctx context.Context, id string, img Image) error
	Get(ctx context.Context, id string) (Image, error)
	Delete(ctx context.Context, id string) error
	Stats() Stats
	Backend() string
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // memory, redis or file
	TTL     time.Duration

	// memory
	CleanupInterval time.Duration

	// redis
	Redis RedisConfig

	// file
	Dir string
}

// New builds the configured backend.
func New(cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL, cfg.CleanupInterval), nil
	case "redis":
		return NewRedisStore(cfg.Redis, cfg.TTL, logger)
	case "file":
		return NewFileStore(cfg.Dir, cfg.TTL, cfg.CleanupInterval, logger)
	default:
		return nil, fmt.Errorf("unsupported image store backend: %q", cfg.Backend)
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "miss"
	default:
		return "error"
	}
}

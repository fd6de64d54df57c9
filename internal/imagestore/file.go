// SPDX-License-Identifier: MIT

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/chartgw/internal/metrics"
)

var extByType = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

var typeByExt = func() map[string]string {
	m := make(map[string]string, len(extByType))
	for t, e := range extByType {
		m[e] = t
	}
	m[".bin"] = "application/octet-stream"
	return m
}()

// FileStore writes one file per image. Writes are atomic.
type FileStore struct {
	dir    string
	ttl    time.Duration
	logger zerolog.Logger

	hits, misses, puts, evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileStore creates dir if needed. A positive cleanupInterval with a TTL
// starts a sweeper that removes files older than the TTL.
func NewFileStore(dir string, ttl, cleanupInterval time.Duration, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file image store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	f := &FileStore{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
	}
	if cleanupInterval > 0 && ttl > 0 {
		f.wg.Add(1)
		go f.sweeper(cleanupInterval)
	}
	return f, nil
}

func (f *FileStore) Backend() string { return "file" }

func (f *FileStore) Put(ctx context.Context, id string, img Image) (err error) {
	defer func() { metrics.RecordImageStoreOp("file", "put", result(err)) }()
	if err := checkID(id); err != nil {
		return err
	}
	ext, ok := extByType[img.ContentType]
	if !ok {
		ext = ".bin"
	}
	path := filepath.Join(f.dir, id+ext)
	if err := renameio.WriteFile(path, img.Data, 0o640); err != nil {
		return fmt.Errorf("write image %s: %w", id, err)
	}
	f.puts.Add(1)
	return nil
}

func (f *FileStore) find(id string) (string, string, error) {
	if err := checkID(id); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for ext, ct := range typeByExt {
		path := filepath.Join(f.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, ct, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (f *FileStore) Get(ctx context.Context, id string) (img Image, err error) {
	defer func() { metrics.RecordImageStoreOp("file", "get", result(err)) }()

	path, ct, err := f.find(id)
	if err != nil {
		f.misses.Add(1)
		return Image{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		f.misses.Add(1)
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.ttl > 0 && time.Since(info.ModTime()) > f.ttl {
		f.misses.Add(1)
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- id is validated against idPattern
	if err != nil {
		f.misses.Add(1)
		return Image{}, fmt.Errorf("read image %s: %w", id, err)
	}
	f.hits.Add(1)
	return Image{Data: data, ContentType: ct, CreatedAt: info.ModTime().UTC()}, nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	path, _, err := f.find(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) Stats() Stats {
	size := 0
	entries, err := os.ReadDir(f.dir)
	if err == nil {
		for _, e := range entries {
			if _, ok := typeByExt[filepath.Ext(e.Name())]; ok && !e.IsDir() {
				size++
			}
		}
	}
	return Stats{
		Hits:        f.hits.Load(),
		Misses:      f.misses.Load(),
		Puts:        f.puts.Load(),
		Evictions:   f.evictions.Load(),
		CurrentSize: size,
	}
}

// sweep removes image files older than the TTL.
func (f *FileStore) sweep() int {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		f.logger.Warn().Err(err).Str("dir", f.dir).Msg("image sweep failed")
		return 0
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := typeByExt[filepath.Ext(name)]; !ok {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) <= f.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err == nil {
			removed++
		}
	}
	f.evictions.Add(int64(removed))
	return removed
}

func (f *FileStore) sweeper(interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.sweep()
		case <-f.stop:
			return
		}
	}
}

// Close stops the sweeper.
func (f *FileStore) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
	return nil
}

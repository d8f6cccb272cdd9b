// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// maxZeroProgressRetries bounds the filesystem sink's internal retry on
// a write that makes no progress, per CORE §7 ("sink implementations
// may do bounded internal retries (up to 3)").
const maxZeroProgressRetries = 3

// FileSink is the filesystem Sink backend: a single on-disk file
// written with positional (pwrite-equivalent) writes through a shared
// HandlePool, so the number of concurrently open descriptors stays
// bounded across many chunk/shard sinks.
type FileSink struct {
	pool *HandlePool
	path string

	finalized bool
}

// NewFileSink opens (creating parent directories as needed) path
// through pool and returns a ready Sink.
func NewFileSink(pool *HandlePool, path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating sink directory for %s: %w: %w", path, err, zarrerr.ErrIO)
	}
	if _, err := pool.Checkout(path); err != nil {
		return nil, err
	}
	return &FileSink{pool: pool, path: path}, nil
}

// Write performs a positional write at offset, retrying up to
// maxZeroProgressRetries times on a zero-progress return.
func (s *FileSink) Write(ctx context.Context, offset int64, data []byte) error {
	if s.finalized {
		return fmt.Errorf("write to finalized sink %s: %w", s.path, zarrerr.ErrInternal)
	}
	f, err := s.pool.Checkout(s.path)
	if err != nil {
		return err
	}
	defer s.pool.Release(s.path)

	remaining := data
	pos := offset
	for len(remaining) > 0 {
		zeroRun := 0
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			n, werr := f.WriteAt(remaining, pos)
			if n > 0 {
				remaining = remaining[n:]
				pos += int64(n)
				break
			}
			if werr != nil {
				return fmt.Errorf("writing sink %s at offset %d: %w: %w", s.path, pos, werr, zarrerr.ErrIO)
			}
			zeroRun++
			if zeroRun > maxZeroProgressRetries {
				return fmt.Errorf("writing sink %s at offset %d: no progress after %d retries: %w", s.path, pos, maxZeroProgressRetries, zarrerr.ErrIO)
			}
		}
	}
	return nil
}

// Finalize flushes the OS buffer and releases the handle. The sink is
// invalid for further writes afterward.
func (s *FileSink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	f, err := s.pool.Checkout(s.path)
	if err != nil {
		return err
	}
	defer s.pool.Release(s.path)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing sink %s: %w: %w", s.path, err, zarrerr.ErrIO)
	}
	// Release the checkout taken by NewFileSink as well: Finalize is the
	// terminal transition, so drop this sink's hold on the handle
	// entirely. The handle itself stays warm in the pool for the next
	// sink at this path (there shouldn't be one, since paths are
	// per-chunk/shard) or gets LRU-evicted when the pool needs a slot.
	s.pool.Release(s.path)
	return nil
}

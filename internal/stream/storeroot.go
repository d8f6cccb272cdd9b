// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/s3sink"
	"github.com/nishisan-dev/zarrstream/internal/sink"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// storeRoot builds Sinks relative to the configured store root, on
// either backend, and owns that backend's shared resource pool
// (file handles or S3 client connections).
type storeRoot struct {
	fsRoot      string // "" when backed by S3
	handles     *sink.HandlePool
	s3Pool      *s3sink.ConnectionPool
	s3Prefix    string
	throttleBps int64
}

// newStoreRoot prepares the store root named by cfg: for a filesystem
// store, creates (and, if cfg.Overwrite, first clears) the root
// directory; for an S3 store, probes the bucket via a ConnectionPool.
func newStoreRoot(ctx context.Context, cfg *config.StreamConfig) (*storeRoot, error) {
	if cfg.Store.S3 != nil {
		pool, err := s3sink.NewConnectionPool(ctx, s3sink.Config{
			Endpoint:        cfg.Store.S3.Endpoint,
			Region:          cfg.Store.S3.Region,
			Bucket:          cfg.Store.S3.Bucket,
			AccessKeyID:     cfg.Store.S3.AccessKeyID,
			SecretAccessKey: cfg.Store.S3.SecretAccessKey,
			UsePathStyle:    cfg.Store.S3.UsePathStyle,
			MaxConnections:  cfg.Store.S3.MaxConnections,
		})
		if err != nil {
			return nil, err
		}
		return &storeRoot{
			s3Pool:      pool,
			s3Prefix:    cfg.Store.Path,
			throttleBps: cfg.Store.S3.ThrottleBpsRaw,
		}, nil
	}

	if cfg.Store.Overwrite {
		if err := os.RemoveAll(cfg.Store.Path); err != nil {
			return nil, fmt.Errorf("clearing store root %s: %w: %w", cfg.Store.Path, err, zarrerr.ErrIO)
		}
	}
	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w: %w", cfg.Store.Path, err, zarrerr.ErrIO)
	}

	capacity := cfg.Janitor.HandleCapacity
	if capacity <= 0 {
		capacity = 256
	}
	return &storeRoot{
		fsRoot:  cfg.Store.Path,
		handles: sink.NewHandlePool(capacity),
	}, nil
}

// build returns a Sink for relKey, a path relative to the store root.
func (r *storeRoot) build(ctx context.Context, relKey string) (sink.Sink, error) {
	if r.s3Pool != nil {
		key := path.Join(r.s3Prefix, relKey)
		s := s3sink.New(r.s3Pool, key)
		return sink.NewThrottledSink(s, r.throttleBps), nil
	}
	p := filepath.Join(r.fsRoot, filepath.FromSlash(relKey))
	return sink.NewFileSink(r.handles, p)
}

// arraySinkFactory returns a SinkFactory scoped under arrayKey, i.e. one
// that prefixes every relative key with "<arrayKey>/" before delegating
// to build. Array writers address chunk/shard objects relative to their
// own array root; only the group writer addresses paths relative to the
// store root directly.
func (r *storeRoot) arraySinkFactory(arrayKey string) func(ctx context.Context, relKey string) (sink.Sink, error) {
	return func(ctx context.Context, relKey string) (sink.Sink, error) {
		return r.build(ctx, path.Join(arrayKey, relKey))
	}
}

// close releases the backend's shared resources.
func (r *storeRoot) close() {
	// The filesystem HandlePool and S3 ConnectionPool both hold only
	// idle, already-released resources by the time Stream.Close calls
	// this (every sink's own Finalize already released its checkout);
	// nothing further to tear down here beyond letting them be GC'd.
}

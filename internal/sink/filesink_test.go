// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWriteAndFinalize(t *testing.T) {
	dir := t.TempDir()
	pool := NewHandlePool(4)
	path := filepath.Join(dir, "a", "b", "chunk-0")

	s, err := NewFileSink(pool, path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Write(ctx, 0, []byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, 6, []byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("file contents = %q, want %q", got, "hello world")
	}
}

func TestFileSinkRandomOffsetWrite(t *testing.T) {
	dir := t.TempDir()
	pool := NewHandlePool(4)
	path := filepath.Join(dir, "chunk-0")

	s, err := NewFileSink(pool, path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	// Non-monotonic offsets must be tolerated (CORE §4.2).
	if err := s.Write(ctx, 5, []byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	s.Finalize(ctx)

	got, _ := os.ReadFile(path)
	if string(got) != "helloworld" {
		t.Fatalf("file contents = %q, want %q", got, "helloworld")
	}
}

func TestHandlePoolEvictsIdleLRU(t *testing.T) {
	dir := t.TempDir()
	pool := NewHandlePool(2)

	p1 := filepath.Join(dir, "1")
	p2 := filepath.Join(dir, "2")
	p3 := filepath.Join(dir, "3")

	f1, err := pool.Checkout(p1)
	if err != nil {
		t.Fatal(err)
	}
	_ = f1
	pool.Release(p1)

	if _, err := pool.Checkout(p2); err != nil {
		t.Fatal(err)
	}
	pool.Release(p2)

	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pool.Len())
	}

	// Checking out a third path must evict p1 (oldest idle).
	if _, err := pool.Checkout(p3); err != nil {
		t.Fatal(err)
	}
	pool.Release(p3)

	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after eviction", pool.Len())
	}
}

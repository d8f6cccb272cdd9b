// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(4, 0, nil)
	var n atomic.Int64
	const total = 200
	for i := 0; i < total; i++ {
		for !p.PushBlocking(func(ctx context.Context) error {
			n.Add(1)
			return nil
		}) {
		}
	}
	p.AwaitStop()
	if n.Load() != total {
		t.Fatalf("ran %d jobs, want %d", n.Load(), total)
	}
	if p.Err() != nil {
		t.Fatalf("unexpected error: %v", p.Err())
	}
}

func TestPoolSurfacesFirstError(t *testing.T) {
	p := New(2, 0, nil)
	want := errors.New("boom")
	p.PushBlocking(func(ctx context.Context) error { return want })
	time.Sleep(20 * time.Millisecond)
	p.AwaitStop()
	if !errors.Is(p.Err(), want) {
		t.Fatalf("Err() = %v, want %v", p.Err(), want)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := New(1, 0, nil)
	p.PushBlocking(func(ctx context.Context) error { panic("kaboom") })
	p.AwaitStop()
	if p.Err() == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestPushAfterStopRejected(t *testing.T) {
	p := New(1, 0, nil)
	p.AwaitStop()
	if p.Push(func(ctx context.Context) error { return nil }) {
		t.Fatal("expected Push to reject after AwaitStop")
	}
}

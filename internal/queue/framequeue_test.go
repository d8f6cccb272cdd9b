// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package queue

import (
	"sync"
	"testing"
)

func TestCapacityFloorAndCap(t *testing.T) {
	if c := Capacity(1 << 30); c != minCapacity {
		t.Fatalf("Capacity(1GiB) = %d, want %d", c, minCapacity)
	}
	if c := Capacity(1024); c <= minCapacity {
		t.Fatalf("Capacity(1KiB) = %d, want > %d", c, minCapacity)
	}
}

func TestPushPopFIFO(t *testing.T) {
	q := New(4)
	for i := 0; i < 4; i++ {
		if err := q.Push(Frame{Data: []byte{byte(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		f, ok := q.Pop()
		if !ok || f.Data[0] != byte(i) {
			t.Fatalf("Pop() = %v, %v; want frame %d", f, ok, i)
		}
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := New(4)
	q.Push(Frame{Data: []byte{1}})
	q.Push(Frame{Data: []byte{2}})
	q.Close()

	f, ok := q.Pop()
	if !ok || f.Data[0] != 1 {
		t.Fatalf("expected to drain frame 1 after close, got %v, %v", f, ok)
	}
	f, ok = q.Pop()
	if !ok || f.Data[0] != 2 {
		t.Fatalf("expected to drain frame 2 after close, got %v, %v", f, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected Pop to report closed+empty")
	}
}

func TestPushBlocksUntilRoom(t *testing.T) {
	q := New(1)
	q.Push(Frame{Data: []byte{1}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Push(Frame{Data: []byte{2}})
	}()

	f, _ := q.Pop()
	if f.Data[0] != 1 {
		t.Fatalf("expected frame 1 first, got %v", f)
	}
	wg.Wait()
	f, _ = q.Pop()
	if f.Data[0] != 2 {
		t.Fatalf("expected frame 2 second, got %v", f)
	}
}

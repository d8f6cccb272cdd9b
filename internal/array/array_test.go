// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package array

import (
	"context"
	"sync"
	"testing"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/sink"
)

// memSink is an in-memory sink.Sink used to assert on written bytes
// without touching the filesystem.
type memSink struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (m *memSink) Write(_ context.Context, offset int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := int(offset) + len(data)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *memSink) Finalize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memSinkFactory records every sink it creates, keyed by relative key.
type memSinkFactory struct {
	mu    sync.Mutex
	sinks map[string]*memSink
}

func newMemSinkFactory() *memSinkFactory {
	return &memSinkFactory{sinks: make(map[string]*memSink)}
}

func (f *memSinkFactory) build(_ context.Context, key string) (sink.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &memSink{}
	f.sinks[key] = s
	return s, nil
}

// tinyDims builds a small 4-axis (t, c, y, x) array: an unbounded time
// axis chunked by 1, 2 channels (single chunk), a 4x4 spatial plane split into 2x2 chunks.
func tinyDims(t *testing.T) *dimension.ArrayDimensions {
	t.Helper()
	ad, err := dimension.New(dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "c", Kind: dimension.KindChannel, ArraySizePx: 2, ChunkSizePx: 2},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 2},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 2},
		},
		DType: dimension.Uint16,
	})
	if err != nil {
		t.Fatalf("dimension.New: %v", err)
	}
	return ad
}

func tinyShardedDims(t *testing.T) *dimension.ArrayDimensions {
	t.Helper()
	ad, err := dimension.New(dimension.Config{
		ShardedV3: true,
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1, ShardSizeChunks: 2},
			{Name: "c", Kind: dimension.KindChannel, ArraySizePx: 2, ChunkSizePx: 2, ShardSizeChunks: 1},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 2},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 2},
		},
		DType: dimension.Uint16,
	})
	if err != nil {
		t.Fatalf("dimension.New: %v", err)
	}
	return ad
}

func TestChunkWriterFlushesOnAppendBoundary(t *testing.T) {
	ad := tinyDims(t)
	sf := newMemSinkFactory()
	w := NewChunkWriter(ad, nil, sf.build, nil, nil)

	frameSize := int(FrameSizeBytes(ad))
	frame := make([]byte, frameSize)

	// One append-chunk worth of frames: c(2) * 1 (chunk_size_append) = 2.
	for i := 0; i < 2; i++ {
		if err := w.WriteFrame(context.Background(), frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	sf.mu.Lock()
	n := len(sf.sinks)
	sf.mu.Unlock()
	if n == 0 {
		t.Fatalf("expected sinks to be created by the append-chunk flush, got 0")
	}
	for key, s := range sf.sinks {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			t.Errorf("sink %q was not finalized after flush", key)
		}
	}
}

func TestChunkWriterRejectsWrongFrameSize(t *testing.T) {
	ad := tinyDims(t)
	sf := newMemSinkFactory()
	w := NewChunkWriter(ad, nil, sf.build, nil, nil)

	if err := w.WriteFrame(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for wrong frame size")
	}
}

func TestChunkWriterCloseFlushesPartial(t *testing.T) {
	ad := tinyDims(t)
	sf := newMemSinkFactory()
	w := NewChunkWriter(ad, nil, sf.build, nil, nil)

	frame := make([]byte, FrameSizeBytes(ad))
	if err := w.WriteFrame(context.Background(), frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	if len(sf.sinks) == 0 {
		t.Fatal("expected Close to flush the partial chunk group")
	}
}

func TestShardWriterRollsShardsAndFinalizes(t *testing.T) {
	ad := tinyShardedDims(t)
	sf := newMemSinkFactory()
	w := NewShardWriter(ad, nil, sf.build, nil, nil)

	frame := make([]byte, FrameSizeBytes(ad))
	// Two shards' worth of frames (c=2 frames per append-chunk, shard
	// spans 2 append-chunks, so 8 frames = 4 append-chunks) to force a
	// shard rollover.
	for i := 0; i < 8; i++ {
		if err := w.WriteFrame(context.Background(), frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	if len(sf.sinks) == 0 {
		t.Fatal("expected at least one shard object to be created")
	}
	for key, s := range sf.sinks {
		s.mu.Lock()
		closed := s.closed
		size := len(s.data)
		s.mu.Unlock()
		if !closed {
			t.Errorf("shard %q was not finalized", key)
		}
		if size == 0 {
			t.Errorf("shard %q has no bytes written", key)
		}
	}
}

func TestShardWriterRejectsWrongFrameSize(t *testing.T) {
	ad := tinyShardedDims(t)
	sf := newMemSinkFactory()
	w := NewShardWriter(ad, nil, sf.build, nil, nil)

	if err := w.WriteFrame(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected error for wrong frame size")
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package group

import (
	"context"
	"sync"
	"testing"

	"github.com/nishisan-dev/zarrstream/internal/array"
	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/downsample"
	"github.com/nishisan-dev/zarrstream/internal/sink"
)

type memSink struct {
	mu   sync.Mutex
	data []byte
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

func (m *memSink) Finalize(context.Context) error { return nil }

type memStore struct {
	mu    sync.Mutex
	sinks map[string]*memSink
}

func newMemStore() *memStore { return &memStore{sinks: make(map[string]*memSink)} }

func (s *memStore) build(_ context.Context, key string) (sink.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &memSink{}
	s.sinks[key] = m
	return m, nil
}

func smallDims(t *testing.T) *dimension.ArrayDimensions {
	t.Helper()
	ad, err := dimension.New(dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4, Scale: 1},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4, Scale: 1},
		},
		DType: dimension.Uint16,
	})
	if err != nil {
		t.Fatalf("dimension.New: %v", err)
	}
	return ad
}

func TestGroupSingleArrayWritesMetadataOnClose(t *testing.T) {
	store := newMemStore()
	ad := smallDims(t)
	w := array.NewChunkWriter(ad, nil, store.build, nil, nil)
	g := New(2, ad, codec.Params{}, nil, w, store.build, nil)

	frame := make([]byte, array.FrameSizeBytes(ad))
	if err := g.WriteFrame(context.Background(), "", frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := g.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.sinks[".zgroup"]; !ok {
		t.Error("expected .zgroup to be written")
	}
	if _, ok := store.sinks["0/.zarray"]; !ok {
		t.Error("expected 0/.zarray to be written")
	}
}

func TestGroupMultiscaleFeedsLevels(t *testing.T) {
	store := newMemStore()
	base := smallDims(t)
	baseWriter := array.NewChunkWriter(base, nil, store.build, nil, nil)
	g := New(2, base, codec.Params{}, nil, baseWriter, store.build, nil)

	lvlCfg := downsample.LevelDims(toConfig(base))
	lvlDims, err := dimension.New(lvlCfg)
	if err != nil {
		t.Fatalf("dimension.New(level): %v", err)
	}
	lvlWriter := array.NewChunkWriter(lvlDims, nil, store.build, nil, nil)
	g.AddLevel(lvlDims, codec.Params{}, nil, lvlWriter, "mean", downsample.Mode2D)

	frame := make([]byte, array.FrameSizeBytes(base))
	if err := g.WriteFrame(context.Background(), "", frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := g.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.sinks[".zattrs"]; !ok {
		t.Error("expected .zattrs (multiscales) to be written")
	}
	if _, ok := store.sinks["1/.zarray"]; !ok {
		t.Error("expected level-1 array metadata to be written")
	}
}

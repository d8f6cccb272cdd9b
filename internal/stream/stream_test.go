// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

func baseDimConfig() []config.DimensionConfig {
	return []config.DimensionConfig{
		{Name: "t", Kind: "time", ArraySizePx: 0, ChunkSizePx: 1},
		{Name: "y", Kind: "space", ArraySizePx: 4, ChunkSizePx: 4, Scale: 1},
		{Name: "x", Kind: "space", ArraySizePx: 4, ChunkSizePx: 4, Scale: 1},
	}
}

func testConfig(t *testing.T, version int) *config.StreamConfig {
	t.Helper()
	return &config.StreamConfig{
		Store: config.StoreConfig{
			Version:   version,
			Path:      t.TempDir(),
			Overwrite: true,
		},
		Arrays: []config.ArrayConfig{
			{Key: "0", DType: "uint16", Dimensions: baseDimConfig()},
		},
		Pool:    config.PoolConfig{Workers: 1, QueueDepth: 4},
		Queue:   config.QueueConfig{Capacity: 4},
		Janitor: config.JanitorConfig{Enabled: false},
	}
}

func TestStreamV2SingleArrayRoundTrip(t *testing.T) {
	cfg := testConfig(t, 2)
	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := make([]byte, 4*4*2) // y*x*sizeof(uint16)
	if _, err := s.Append(context.Background(), "", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	root := cfg.Store.Path
	if _, err := os.Stat(filepath.Join(root, ".zgroup")); err != nil {
		t.Errorf(".zgroup not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "0", ".zarray")); err != nil {
		t.Errorf("0/.zarray not written: %v", err)
	}
}

func TestStreamV3ShardedRoundTrip(t *testing.T) {
	cfg := testConfig(t, 3)
	cfg.Arrays[0].Dimensions[0].ShardSizeChunks = 1
	cfg.Arrays[0].Dimensions[1].ShardSizeChunks = 1
	cfg.Arrays[0].Dimensions[2].ShardSizeChunks = 1

	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := make([]byte, 4*4*2)
	if _, err := s.Append(context.Background(), "", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	root := cfg.Store.Path
	if _, err := os.Stat(filepath.Join(root, "zarr.json")); err != nil {
		t.Errorf("zarr.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "0", "zarr.json")); err != nil {
		t.Errorf("0/zarr.json not written: %v", err)
	}
}

func TestStreamMultiscaleRoundTrip(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.Downsample = config.DownsampleConfig{Enabled: true, Method: "mean", Levels: 1}

	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := make([]byte, 4*4*2)
	if _, err := s.Append(context.Background(), "", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	root := cfg.Store.Path
	if _, err := os.Stat(filepath.Join(root, ".zattrs")); err != nil {
		t.Errorf(".zattrs (multiscales) not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "1", ".zarray")); err != nil {
		t.Errorf("level-1 array metadata not written: %v", err)
	}
}

func TestStreamAppendBuffersPartialFrames(t *testing.T) {
	cfg := testConfig(t, 2)
	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	full := 4 * 4 * 2
	half := full / 2
	data := make([]byte, half)

	n, err := s.Append(context.Background(), "", data)
	if err != nil {
		t.Fatalf("Append (partial): %v", err)
	}
	if n != half {
		t.Fatalf("expected %d bytes consumed, got %d", half, n)
	}
	if got := s.CurrentMemoryUsage(); got != uint64(half) {
		t.Errorf("expected in-flight partial buffer of %d bytes, got %d", half, got)
	}

	n, err = s.Append(context.Background(), "", data)
	if err != nil {
		t.Fatalf("Append (completing frame): %v", err)
	}
	if n != half {
		t.Fatalf("expected %d bytes consumed, got %d", half, n)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStreamWriteCustomMetadataRejectsOverwrite(t *testing.T) {
	cfg := testConfig(t, 2)
	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())

	doc := []byte(`{"subject":"mouse-1"}`)
	if err := s.WriteCustomMetadata(context.Background(), doc, false); err != nil {
		t.Fatalf("first WriteCustomMetadata: %v", err)
	}
	err = s.WriteCustomMetadata(context.Background(), doc, false)
	if !errors.Is(err, zarrerr.ErrWillNotOverwrite) {
		t.Fatalf("expected ErrWillNotOverwrite, got %v", err)
	}
	if err := s.WriteCustomMetadata(context.Background(), doc, true); err != nil {
		t.Fatalf("WriteCustomMetadata with overwrite: %v", err)
	}
}

func TestStreamWriteCustomMetadataRejectsInvalidJSON(t *testing.T) {
	cfg := testConfig(t, 2)
	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())

	err = s.WriteCustomMetadata(context.Background(), []byte("not json"), false)
	if !errors.Is(err, zarrerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEstimateMaxMemoryUsageMatchesHandDerivedFormula(t *testing.T) {
	cfg := testConfig(t, 2)

	estimate, err := EstimateMaxMemoryUsage(cfg)
	if err != nil {
		t.Fatalf("EstimateMaxMemoryUsage: %v", err)
	}

	// Uncompressed single array, no multiscale: 1 GiB floor plus one
	// frame buffer plus the fully populated (here, single-chunk) lattice.
	const frameBytes = uint64(4 * 4 * 2)
	want := queueFloorBytes + frameBytes + frameBytes
	if estimate != want {
		t.Errorf("estimate = %d, want %d", estimate, want)
	}
}

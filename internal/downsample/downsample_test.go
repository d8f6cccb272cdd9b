// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package downsample

import (
	"testing"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
)

func u16Plane(vals ...uint16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func TestReducePlaneMean(t *testing.T) {
	// 2x2 plane: 10, 20, 30, 40 -> mean (10+20+30+40)/4 = 25
	src := u16Plane(10, 20, 30, 40)
	dst, rows, cols, err := ReducePlane(Mean, src, 2, 2, 2)
	if err != nil {
		t.Fatalf("ReducePlane: %v", err)
	}
	if rows != 1 || cols != 1 {
		t.Fatalf("expected 1x1 output, got %dx%d", rows, cols)
	}
	got := uint16(dst[0]) | uint16(dst[1])<<8
	if got != 25 {
		t.Errorf("mean = %d, want 25", got)
	}
}

func TestReducePlaneOddDimensionsDuplicatesEdge(t *testing.T) {
	// 3x3 plane, reduced to 2x2; edge tiles fall back to the single
	// available column/row.
	src := u16Plane(1, 2, 3, 4, 5, 6, 7, 8, 9)
	dst, rows, cols, err := ReducePlane(Decimate, src, 3, 3, 2)
	if err != nil {
		t.Fatalf("ReducePlane: %v", err)
	}
	if rows != 2 || cols != 2 {
		t.Fatalf("expected 2x2 output, got %dx%d", rows, cols)
	}
	if len(dst) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(dst))
	}
}

func TestReducePlaneRejectsUnsupportedWidth(t *testing.T) {
	src := make([]byte, 4*4)
	if _, _, _, err := ReducePlane(Mean, src, 2, 2, 4); err == nil {
		t.Fatal("expected error for 4-byte element width")
	}
}

func TestCombineZPairRejectsUnsupportedWidth(t *testing.T) {
	a := make([]byte, 16)
	b := make([]byte, 16)
	if _, err := combineZPair(Mean, a, b, 4); err == nil {
		t.Fatal("expected error for 4-byte element width")
	}
}

func TestLevelDimsHalvesSpatialAndClampsChunk(t *testing.T) {
	base := dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 3, ChunkSizePx: 4},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 3, ChunkSizePx: 4},
		},
		DType: dimension.Uint16,
	}
	lvl1 := LevelDims(base)
	if lvl1.Dims[1].ArraySizePx != 2 || lvl1.Dims[2].ArraySizePx != 2 {
		t.Fatalf("expected spatial axes halved to 2, got %d,%d", lvl1.Dims[1].ArraySizePx, lvl1.Dims[2].ArraySizePx)
	}
	if lvl1.Dims[1].ChunkSizePx != 2 {
		t.Errorf("expected chunk clamped to array size 2, got %d", lvl1.Dims[1].ChunkSizePx)
	}
}

func TestPyramid2DEmitsEveryLevelPerFrame(t *testing.T) {
	base := dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
		},
		DType: dimension.Uint16,
	}
	p := NewPyramid(base, 2, Mode2D, Mean)
	frame := make([]byte, 4*4*2)
	out, err := p.Submit(0, frame, 4, 4)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 level frames, got %d", len(out))
	}
	if out[0].Level != 1 || out[1].Level != 2 {
		t.Errorf("unexpected level sequence: %+v", out)
	}
}

func TestPyramid3DSubmitPropagatesUnsupportedWidthError(t *testing.T) {
	base := dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "z", Kind: dimension.KindOther, ArraySizePx: 4, ChunkSizePx: 4},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
		},
		DType: dimension.Int32,
	}
	p := NewPyramid(base, 1, Mode3D, Mean)
	frame := make([]byte, 4*4*4)

	if _, err := p.Submit(0, frame, 4, 4); err != nil {
		t.Fatalf("Submit 1: unexpected error %v", err)
	}
	_, err := p.Submit(0, frame, 4, 4)
	if err == nil {
		t.Fatal("expected error combining z-pair for an unsupported 4-byte element width, got zeroed data instead")
	}
}

func TestPyramid3DBuffersZPair(t *testing.T) {
	base := dimension.Config{
		Dims: []dimension.Dim{
			{Name: "t", Kind: dimension.KindTime, ArraySizePx: 0, ChunkSizePx: 1},
			{Name: "z", Kind: dimension.KindOther, ArraySizePx: 4, ChunkSizePx: 4},
			{Name: "y", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
			{Name: "x", Kind: dimension.KindSpace, ArraySizePx: 4, ChunkSizePx: 4},
		},
		DType: dimension.Uint16,
	}
	p := NewPyramid(base, 1, Mode3D, Mean)
	frame := make([]byte, 4*4*2)

	out1, err := p.Submit(0, frame, 4, 4)
	if err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	if len(out1) != 0 {
		t.Fatalf("expected first z-slice to be cached, got %d frames", len(out1))
	}

	out2, err := p.Submit(0, frame, 4, 4)
	if err != nil {
		t.Fatalf("Submit 2: %v", err)
	}
	if len(out2) != 1 {
		t.Fatalf("expected second z-slice to complete the pair, got %d frames", len(out2))
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package dimension implements the canonical dimension model: axis
// ordering, chunk/shard counts, and the frame-id to chunk/shard index
// arithmetic that the array writers use to scatter incoming frames into
// the right place in the chunk lattice. The algorithms are ported from
// the acquire-zarr streaming engine's ArrayDimensions (array.dimensions.cpp),
// kept close to the original divmod structure since that structure is
// the part most likely to hide an off-by-one.
package dimension

import (
	"fmt"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Kind classifies an axis.
type Kind int

const (
	KindSpace Kind = iota
	KindChannel
	KindTime
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindSpace:
		return "space"
	case KindChannel:
		return "channel"
	case KindTime:
		return "time"
	default:
		return "other"
	}
}

// Dim is one named axis.
type Dim struct {
	Name string
	Kind Kind

	// ArraySizePx is the full extent of the axis. 0 means unbounded
	// (append axis); legal only for the first axis.
	ArraySizePx uint32

	// ChunkSizePx is the chunk extent along this axis. Must be >= 1.
	ChunkSizePx uint32

	// ShardSizeChunks is the shard extent along this axis, in units of
	// chunks. v3 only; ignored for v2 arrays. Must be >= 1 when used.
	ShardSizeChunks uint32

	Unit  string
	Scale float64 // defaults to 1 when zero
}

// validate checks the single-dimension invariants from CORE §3.
func (d Dim) validate(isFirst, isLastTwo bool) error {
	if d.Name == "" {
		return fmt.Errorf("dimension name is empty: %w", zarrerr.ErrInvalidArgument)
	}
	if d.ChunkSizePx == 0 {
		return fmt.Errorf("dimension %q: chunk_size_px must be >= 1: %w", d.Name, zarrerr.ErrInvalidArgument)
	}
	if d.ArraySizePx == 0 && !isFirst {
		return fmt.Errorf("dimension %q: array_size_px == 0 (unbounded) only legal on first axis: %w", d.Name, zarrerr.ErrInvalidSettings)
	}
	if d.ArraySizePx != 0 && d.ChunkSizePx > d.ArraySizePx {
		return fmt.Errorf("dimension %q: chunk_size_px (%d) > array_size_px (%d): %w", d.Name, d.ChunkSizePx, d.ArraySizePx, zarrerr.ErrInvalidArgument)
	}
	if d.Scale < 0 {
		return fmt.Errorf("dimension %q: scale must be non-negative: %w", d.Name, zarrerr.ErrInvalidArgument)
	}
	return nil
}

// DType is the array's element data type.
type DType int

const (
	Int8 DType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

// BytesOf returns the element width in bytes.
func (t DType) BytesOf() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// ZarrV2Code returns the v2 endian-prefixed dtype code, e.g. "<u2".
func (t DType) ZarrV2Code() string {
	switch t {
	case Int8:
		return "|i1"
	case Int16:
		return "<i2"
	case Int32:
		return "<i4"
	case Int64:
		return "<i8"
	case Uint8:
		return "|u1"
	case Uint16:
		return "<u2"
	case Uint32:
		return "<u4"
	case Uint64:
		return "<u8"
	case Float32:
		return "<f4"
	case Float64:
		return "<f8"
	default:
		return ""
	}
}

// ZarrV3Name returns the v3 string data_type name, e.g. "uint16".
func (t DType) ZarrV3Name() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return ""
	}
}

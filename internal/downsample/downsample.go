// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package downsample builds the OME-NGFF multiscale pyramid: each level
// halves the two spatial axes of the level above it and reduces pixel
// pairs with one of a small set of integer-safe methods.
package downsample

import (
	"fmt"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Method selects how four (or two, on the last level along a
// single-pixel axis) source pixels are reduced to one destination pixel.
type Method int

const (
	Mean Method = iota
	Decimate
	Min
	Max
)

// ParseMethod maps the config string onto a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "mean":
		return Mean, nil
	case "decimate":
		return Decimate, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown downsample method %q: %w", s, zarrerr.ErrInvalidArgument)
	}
}

// LevelDims computes the ArrayDimensions for one pyramid level below
// base: spatial array sizes are halved (rounded up), chunk sizes are
// clamped to the new array size and shard sizes to the new chunk count,
// so a shrinking level never asks for a chunk bigger than the array
// itself or a shard wider than its axis.
func LevelDims(base dimension.Config) dimension.Config {
	out := dimension.Config{
		DType:       base.DType,
		ShardedV3:   base.ShardedV3,
		TargetOrder: base.TargetOrder,
	}
	out.Dims = make([]dimension.Dim, len(base.Dims))
	n := len(base.Dims)
	for i, d := range base.Dims {
		nd := d
		if i >= n-2 {
			nd.ArraySizePx = halve(d.ArraySizePx)
			if nd.ChunkSizePx > nd.ArraySizePx && nd.ArraySizePx > 0 {
				nd.ChunkSizePx = nd.ArraySizePx
			}
			if nd.ArraySizePx > 0 && nd.ChunkSizePx > 0 {
				if ca := (nd.ArraySizePx + nd.ChunkSizePx - 1) / nd.ChunkSizePx; nd.ShardSizeChunks > ca {
					nd.ShardSizeChunks = ca
				}
			}
		}
		out.Dims[i] = nd
	}
	return out
}

func halve(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	h := (n + 1) / 2
	if h == 0 {
		return 1
	}
	return h
}

// ReducePlane downsamples one full (rows x cols) plane of typeSize-byte
// elements by 2x2 using method, writing into a (ceil(rows/2) x
// ceil(cols/2)) destination plane. Only the Uint8 and Uint16 element
// widths are implemented; every other dtype in the spec's enum is
// rejected up front by config.StreamConfig.Validate when downsampling is
// enabled, so this never silently mishandles a wider or signed type.
func ReducePlane(method Method, src []byte, rows, cols int, typeSize int) ([]byte, int, int, error) {
	dstRows := (rows + 1) / 2
	dstCols := (cols + 1) / 2
	dst := make([]byte, dstRows*dstCols*typeSize)

	switch typeSize {
	case 1:
		reducePlane8(method, src, dst, rows, cols, dstRows, dstCols)
	case 2:
		reducePlane16(method, src, dst, rows, cols, dstRows, dstCols)
	default:
		return nil, 0, 0, fmt.Errorf("unsupported element width %d: %w", typeSize, zarrerr.ErrNotYetImplemented)
	}
	return dst, dstRows, dstCols, nil
}

// avg4 computes floor((a+b+c+d)/4) without overflow, using the identity
// a/4 + b/4 + c/4 + d/4 + (a%4 + b%4 + c%4 + d%4)/4, so four-way
// averages never risk intermediate overflow even at the widest
// supported integer type.
func avg4(a, b, c, d uint32) uint32 {
	return a/4 + b/4 + c/4 + d/4 + (a%4+b%4+c%4+d%4)/4
}

func reduce4(method Method, a, b, c, d uint32) uint32 {
	switch method {
	case Decimate:
		return a
	case Min:
		m := a
		if b < m {
			m = b
		}
		if c < m {
			m = c
		}
		if d < m {
			m = d
		}
		return m
	case Max:
		m := a
		if b > m {
			m = b
		}
		if c > m {
			m = c
		}
		if d > m {
			m = d
		}
		return m
	default: // Mean
		return avg4(a, b, c, d)
	}
}

func reducePlane8(method Method, src, dst []byte, rows, cols, dstRows, dstCols int) {
	for dy := 0; dy < dstRows; dy++ {
		y0 := dy * 2
		y1 := y0 + 1
		if y1 >= rows {
			y1 = y0
		}
		for dx := 0; dx < dstCols; dx++ {
			x0 := dx * 2
			x1 := x0 + 1
			if x1 >= cols {
				x1 = x0
			}
			a := uint32(src[y0*cols+x0])
			b := uint32(src[y0*cols+x1])
			c := uint32(src[y1*cols+x0])
			d := uint32(src[y1*cols+x1])
			dst[dy*dstCols+dx] = byte(reduce4(method, a, b, c, d))
		}
	}
}

func reducePlane16(method Method, src, dst []byte, rows, cols, dstRows, dstCols int) {
	get := func(y, x int) uint32 {
		i := (y*cols + x) * 2
		return uint32(src[i]) | uint32(src[i+1])<<8
	}
	put := func(y, x int, v uint32) {
		i := (y*dstCols + x) * 2
		dst[i] = byte(v)
		dst[i+1] = byte(v >> 8)
	}
	for dy := 0; dy < dstRows; dy++ {
		y0 := dy * 2
		y1 := y0 + 1
		if y1 >= rows {
			y1 = y0
		}
		for dx := 0; dx < dstCols; dx++ {
			x0 := dx * 2
			x1 := x0 + 1
			if x1 >= cols {
				x1 = x0
			}
			v := reduce4(method, get(y0, x0), get(y0, x1), get(y1, x0), get(y1, x1))
			put(dy, dx, v)
		}
	}
}

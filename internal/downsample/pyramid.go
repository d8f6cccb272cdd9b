// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package downsample

import (
	"fmt"
	"sync"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Mode selects whether a level combines only the spatial plane (2x2) or
// also pairs adjacent z-planes before reducing (2x2x3D).
type Mode int

const (
	Mode2D Mode = iota
	Mode3D
)

// Pyramid cascades incoming base-resolution frames down through Levels
// lower-resolution levels, returning each freshly produced level-N frame
// from Submit. In Mode3D, a level needs two consecutive frames from
// the level above (a z-pair) before it can emit; the first of a pair is
// cached and released once its partner arrives.
type Pyramid struct {
	mode     Mode
	method   Method
	levels   int
	dims     []dimension.Config // dims[0] is level 1 (first downsampled level)
	typeSize int

	mu      sync.Mutex
	pending [][]byte // one cached half-pair per level, nil when empty
}

// NewPyramid builds a Pyramid with `levels` downsampled levels below
// baseDims, each computed via LevelDims applied repeatedly.
func NewPyramid(baseDims dimension.Config, levels int, mode Mode, method Method) *Pyramid {
	p := &Pyramid{
		mode:     mode,
		method:   method,
		levels:   levels,
		typeSize: baseDims.DType.BytesOf(),
		pending:  make([][]byte, levels),
	}
	cur := baseDims
	for i := 0; i < levels; i++ {
		cur = LevelDims(cur)
		p.dims = append(p.dims, cur)
	}
	return p
}

// LevelConfig returns the dimension.Config for the given 1-indexed
// pyramid level (level 0 is the base array, not tracked here).
func (p *Pyramid) LevelConfig(level int) dimension.Config {
	return p.dims[level-1]
}

// Levels returns the number of downsampled levels this pyramid produces.
func (p *Pyramid) Levels() int { return p.levels }

// Submit feeds one frame at sourceLevel (0 = base array) into the
// pyramid, returning every newly produced (level, frame) pair this call
// completes. In Mode2D every call yields exactly one result per
// remaining level below sourceLevel, since spatial reduction needs only
// one source frame. In Mode3D, odd calls cache and return nothing for
// that level; even calls combine with the cached frame and cascade.
func (p *Pyramid) Submit(sourceLevel int, frame []byte, rows, cols int) ([]LevelFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []LevelFrame
	cur := frame
	curRows, curCols := rows, cols
	for lvl := sourceLevel; lvl < p.levels; lvl++ {
		if p.mode == Mode3D {
			if p.pending[lvl] == nil {
				p.pending[lvl] = append([]byte(nil), cur...)
				return out, nil
			}
			combined, err := combineZPair(p.method, p.pending[lvl], cur, p.typeSize)
			if err != nil {
				return out, err
			}
			cur = combined
			p.pending[lvl] = nil
		}

		reduced, dstRows, dstCols, err := ReducePlane(p.method, cur, curRows, curCols, p.typeSize)
		if err != nil {
			return out, err
		}
		out = append(out, LevelFrame{Level: lvl + 1, Data: reduced, Rows: dstRows, Cols: dstCols})
		cur, curRows, curCols = reduced, dstRows, dstCols
	}
	return out, nil
}

// LevelFrame is one frame newly produced by Submit, ready for the
// corresponding pyramid-level array writer.
type LevelFrame struct {
	Level int
	Data  []byte
	Rows  int
	Cols  int
}

// combineZPair element-wise reduces two same-shape planes (adjacent
// z-slices) with method, ahead of the spatial 2x2 reduction. typeSize
// must be one of the widths ReducePlane accepts; config.StreamConfig.Validate
// rejects multiscale on any other dtype before a Pyramid is ever built,
// so reaching the default case here means that guard was bypassed.
func combineZPair(method Method, a, b []byte, typeSize int) ([]byte, error) {
	out := make([]byte, len(a))
	switch typeSize {
	case 1:
		for i := range a {
			out[i] = byte(reduce4(method, uint32(a[i]), uint32(a[i]), uint32(b[i]), uint32(b[i])))
		}
	case 2:
		for i := 0; i < len(a); i += 2 {
			av := uint32(a[i]) | uint32(a[i+1])<<8
			bv := uint32(b[i]) | uint32(b[i+1])<<8
			v := reduce4(method, av, av, bv, bv)
			out[i] = byte(v)
			out[i+1] = byte(v >> 8)
		}
	default:
		return nil, fmt.Errorf("unsupported element width %d: %w", typeSize, zarrerr.ErrNotYetImplemented)
	}
	return out, nil
}

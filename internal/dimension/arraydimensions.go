// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dimension

import (
	"fmt"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Config describes the ordered dimension list and type used to build an
// ArrayDimensions. TargetOrder, when non-nil, gives the storage-order
// position for each acquisition-order axis (TargetOrder[i] is the
// storage index of acquisition axis i); it must be a permutation of
// [0, len(Dims)). A nil TargetOrder means acquisition order and storage
// order coincide and TransposeFrameID is the identity.
type Config struct {
	Dims        []Dim
	DType       DType
	ShardedV3   bool
	TargetOrder []int
}

// ArrayDimensions is the canonical, immutable dimension model for one
// array: axis order, precomputed chunk/shard counts, and the frame-id to
// chunk/shard index arithmetic used by the array writers.
//
// All dims are stored in storage (canonical) order: axis 0 is the append
// axis, the last two axes are the spatial (Y, X) axes.
type ArrayDimensions struct {
	dims    []Dim
	dtype   DType
	sharded bool

	// acquisition -> storage permutation; nil when identity.
	fwd []int
	inv []int
	// acquisition-order sizes, needed to decode frame ids in acquisition
	// coordinates before permuting. Only used when fwd != nil.
	acqSizes []uint64

	bytesPerChunk  uint64
	tileSize       uint64 // bytes of one (chunk_y x chunk_x) tile
	nTilesY        uint64
	nTilesX        uint64
	chunksInMemory uint64 // product over axes [1,n) of chunks_along

	// chunksAlongFixed[i] is valid for i in [1, n); index 0 (append) is
	// dynamic and computed from frame counts on demand.
	chunksAlongFixed []uint64

	// lattice strides for non-spatial, non-append axes [1, n-2), used by
	// TileGroupOffset. latticeStride[i] is the stride (in inner-chunk
	// units) for axis i.
	latticeStride []uint64

	// internal strides for non-spatial axes [0, n-2), including append,
	// used by ChunkInternalOffset. internalStride[i] is in tile units.
	internalStride []uint64

	// v3 shard bookkeeping.
	shardSizeChunks   []uint64 // per axis, defaults to 1 when unset
	shardsAlongFixed  []uint64 // axes [1, n)
	chunksPerShardIn  uint64   // chunks per layer (axes [1, n) only)
	layersPerShard    uint64   // shard_size_chunks along append axis
	shardLatticeStr   []uint64 // relinearize inner-shard coord, axes [1,n)
	shardInternalStr  []uint64 // relinearize in-layer coord, axes [1,n)
	chunksAlongInner  []uint64 // chunks_along for axes [1,n), cached
	shardsAlongInner  []uint64 // shards_along for axes [1,n), cached
}

// New validates cfg and builds an ArrayDimensions.
func New(cfg Config) (*ArrayDimensions, error) {
	n := len(cfg.Dims)
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 dimensions, got %d: %w", n, zarrerr.ErrInvalidSettings)
	}

	spatialCount := 0
	for i, d := range cfg.Dims {
		isLastTwo := i >= n-2
		if err := d.validate(i == 0, isLastTwo); err != nil {
			return nil, err
		}
		if d.Kind == KindSpace {
			spatialCount++
			if !isLastTwo {
				return nil, fmt.Errorf("dimension %q: spatial axes must be the last two: %w", d.Name, zarrerr.ErrInvalidSettings)
			}
		}
	}
	if spatialCount != 2 {
		return nil, fmt.Errorf("exactly two spatial axes required, got %d: %w", spatialCount, zarrerr.ErrInvalidSettings)
	}
	if cfg.Dims[n-2].Kind != KindSpace || cfg.Dims[n-1].Kind != KindSpace {
		return nil, fmt.Errorf("last two axes must both be spatial: %w", zarrerr.ErrInvalidSettings)
	}

	ad := &ArrayDimensions{
		dims:    append([]Dim(nil), cfg.Dims...),
		dtype:   cfg.DType,
		sharded: cfg.ShardedV3,
	}
	for i := range ad.dims {
		if ad.dims[i].Scale == 0 {
			ad.dims[i].Scale = 1
		}
	}

	if cfg.TargetOrder != nil {
		if err := ad.setPermutation(cfg.TargetOrder); err != nil {
			return nil, err
		}
	}

	ad.precompute()
	if cfg.ShardedV3 {
		if err := ad.precomputeSharding(); err != nil {
			return nil, err
		}
	}
	return ad, nil
}

func (ad *ArrayDimensions) setPermutation(targetOrder []int) error {
	n := len(ad.dims)
	if len(targetOrder) != n {
		return fmt.Errorf("target order length %d != ndims %d: %w", len(targetOrder), n, zarrerr.ErrInvalidArgument)
	}
	seen := make([]bool, n)
	identity := true
	for i, v := range targetOrder {
		if v < 0 || v >= n || seen[v] {
			return fmt.Errorf("target order is not a permutation of [0,%d): %w", n, zarrerr.ErrInvalidArgument)
		}
		seen[v] = true
		if v != i {
			identity = false
		}
	}
	if identity {
		return nil
	}
	ad.fwd = append([]int(nil), targetOrder...)
	ad.inv = make([]int, n)
	for acq, store := range ad.fwd {
		ad.inv[store] = acq
	}
	ad.acqSizes = make([]uint64, n)
	for acq, store := range ad.fwd {
		ad.acqSizes[acq] = uint64(ad.dims[store].ArraySizePx)
	}
	return nil
}

func (ad *ArrayDimensions) NDims() int       { return len(ad.dims) }
func (ad *ArrayDimensions) DType() DType     { return ad.dtype }
func (ad *ArrayDimensions) At(i int) Dim     { return ad.dims[i] }
func (ad *ArrayDimensions) BytesOfType() int { return ad.dtype.BytesOf() }
func (ad *ArrayDimensions) NeedsTransposition() bool { return ad.fwd != nil }

func (ad *ArrayDimensions) BytesPerChunk() uint64 { return ad.bytesPerChunk }
func (ad *ArrayDimensions) ChunksInMemory() uint64 { return ad.chunksInMemory }
func (ad *ArrayDimensions) NTilesY() uint64 { return ad.nTilesY }
func (ad *ArrayDimensions) NTilesX() uint64 { return ad.nTilesX }
func (ad *ArrayDimensions) TileSize() uint64 { return ad.tileSize }

// chunksAlong returns ceil(array_size/chunk_size) for axis i, i != 0.
func chunksAlong(d Dim) uint64 {
	cs := uint64(d.ChunkSizePx)
	as := uint64(d.ArraySizePx)
	return (as + cs - 1) / cs
}

func (ad *ArrayDimensions) precompute() {
	n := len(ad.dims)

	ad.bytesPerChunk = uint64(ad.dtype.BytesOf())
	for _, d := range ad.dims {
		ad.bytesPerChunk *= uint64(d.ChunkSizePx)
	}

	ad.nTilesY = chunksAlong(ad.dims[n-2])
	ad.nTilesX = chunksAlong(ad.dims[n-1])
	ad.tileSize = uint64(ad.dtype.BytesOf()) * uint64(ad.dims[n-2].ChunkSizePx) * uint64(ad.dims[n-1].ChunkSizePx)

	ad.chunksAlongFixed = make([]uint64, n)
	ad.chunksInMemory = 1
	for i := 1; i < n; i++ {
		ad.chunksAlongFixed[i] = chunksAlong(ad.dims[i])
		ad.chunksInMemory *= ad.chunksAlongFixed[i]
	}

	// latticeStride[i] for i in [1, n-2): stride, in inner-chunk units
	// (over the chunks_in_memory lattice), contributed by axis i. Axes
	// n-2 and n-1 (spatial) are the innermost and contribute the
	// n_tiles_y * n_tiles_x factor baked into every outer axis' stride.
	ad.latticeStride = make([]uint64, n)
	stride := ad.nTilesY * ad.nTilesX
	for i := n - 3; i >= 1; i-- {
		ad.latticeStride[i] = stride
		stride *= ad.chunksAlongFixed[i]
	}

	// internalStride[i] for i in [0, n-2): stride, in tile units, within
	// one chunk, contributed by axis i (append axis included).
	ad.internalStride = make([]uint64, n)
	istride := uint64(1)
	for i := n - 3; i >= 0; i-- {
		ad.internalStride[i] = istride
		istride *= uint64(ad.dims[i].ChunkSizePx)
	}
}

// axisRawIndex returns the position along axis i (in native, un-chunked
// units) that frame_id encodes, i.e. the mixed-radix digit of frame_id
// at axis i when non-spatial axes are read as a mixed-radix number with
// axis n-3 (innermost non-spatial axis) fastest-varying and axis 0
// (append) slowest-varying.
func (ad *ArrayDimensions) axisRawIndex(frameID uint64, axis int) uint64 {
	n := len(ad.dims)
	inner := uint64(1)
	for j := axis + 1; j < n-2; j++ {
		inner *= uint64(ad.dims[j].ArraySizePx)
	}
	v := frameID / inner
	if axis != 0 {
		v %= uint64(ad.dims[axis].ArraySizePx)
	}
	return v
}

// ChunkLatticeIndex returns the chunk-lattice coordinate along axis i
// implied by frame_id, for i in [0, n-2).
func (ad *ArrayDimensions) ChunkLatticeIndex(frameID uint64, axis int) uint64 {
	return ad.axisRawIndex(frameID, axis) / uint64(ad.dims[axis].ChunkSizePx)
}

// TileGroupOffset returns the index, within the dense chunks_in_memory
// lattice, of the first chunk (tile_y=0, tile_x=0) this frame targets.
func (ad *ArrayDimensions) TileGroupOffset(frameID uint64) uint64 {
	n := len(ad.dims)
	var off uint64
	for i := 1; i < n-2; i++ {
		off += ad.ChunkLatticeIndex(frameID, i) * ad.latticeStride[i]
	}
	return off
}

// ChunkInternalOffset returns the byte offset, within a chunk, where
// this frame's data begins (before accounting for the Y,X tile position,
// which write_frame adds per-row).
func (ad *ArrayDimensions) ChunkInternalOffset(frameID uint64) uint64 {
	n := len(ad.dims)
	var off uint64
	for i := 0; i < n-2; i++ {
		internalIdx := ad.axisRawIndex(frameID, i) % uint64(ad.dims[i].ChunkSizePx)
		off += internalIdx * ad.internalStride[i]
	}
	return off * ad.tileSize
}

// AppendChunkIndex returns the chunk-lattice coordinate along the append
// axis (axis 0) implied by frame_id; this is also the v2 object key's
// leading path segment.
func (ad *ArrayDimensions) AppendChunkIndex(frameID uint64) uint64 {
	return ad.ChunkLatticeIndex(frameID, 0)
}

// TransposeFrameID remaps frame_id from acquisition order into storage
// order when a target order was supplied at construction; it is the
// identity otherwise.
func (ad *ArrayDimensions) TransposeFrameID(frameID uint64) uint64 {
	if ad.fwd == nil {
		return frameID
	}
	n := len(ad.dims)

	// Decode frame_id into acquisition-order coordinates. Spatial axes
	// are always zero in this representation (a frame is a whole plane).
	acqCoord := make([]uint64, n)
	rem := frameID
	// acqSizes holds array sizes in acquisition order for axes [0, n-2).
	for i := n - 3; i >= 0; i-- {
		size := ad.acqSizes[i]
		if i == 0 || size == 0 {
			acqCoord[i] = rem
			break
		}
		acqCoord[i] = rem % size
		rem /= size
	}

	// Permute into storage-order coordinates.
	storeCoord := make([]uint64, n)
	for acq, v := range acqCoord {
		storeCoord[ad.fwd[acq]] = v
	}

	// Re-linearise in storage order (same mixed-radix convention as
	// axisRawIndex/ChunkLatticeIndex).
	var out uint64
	for i := 0; i < n-2; i++ {
		inner := uint64(1)
		for j := i + 1; j < n-2; j++ {
			inner *= uint64(ad.dims[j].ArraySizePx)
		}
		out += storeCoord[i] * inner
	}
	return out
}

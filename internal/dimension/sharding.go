// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package dimension

import (
	"fmt"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// precomputeSharding builds the v3 shard tables: shard_size_chunks
// defaults to 1 on any axis where the caller left it zero, chunks per
// layer (the inner, non-append shard extent) and the strides used to
// relinearize a chunk's per-axis coordinate into an inner shard index
// and an in-layer internal index.
func (ad *ArrayDimensions) precomputeSharding() error {
	n := len(ad.dims)
	ad.shardSizeChunks = make([]uint64, n)
	for i, d := range ad.dims {
		s := uint64(d.ShardSizeChunks)
		if s == 0 {
			s = 1
		}
		ad.shardSizeChunks[i] = s
	}

	ad.layersPerShard = ad.shardSizeChunks[0]

	ad.chunksAlongInner = make([]uint64, n)
	ad.shardsAlongInner = make([]uint64, n)
	ad.chunksPerShardIn = 1
	for i := 1; i < n; i++ {
		ca := ad.chunksAlongFixed[i]
		ad.chunksAlongInner[i] = ca
		sa := (ca + ad.shardSizeChunks[i] - 1) / ad.shardSizeChunks[i]
		ad.shardsAlongInner[i] = sa
		if ad.shardSizeChunks[i] > ca {
			return fmt.Errorf("axis %q: shard_size_chunks (%d) exceeds chunks_along (%d): %w",
				ad.dims[i].Name, ad.shardSizeChunks[i], ca, zarrerr.ErrInvalidSettings)
		}
		ad.chunksPerShardIn *= ad.shardSizeChunks[i]
	}

	// Strides to relinearize over axes [1, n), innermost (n-1) fastest.
	ad.shardLatticeStr = make([]uint64, n)
	ad.shardInternalStr = make([]uint64, n)
	latStride := uint64(1)
	intStride := uint64(1)
	for i := n - 1; i >= 1; i-- {
		ad.shardLatticeStr[i] = latStride
		ad.shardInternalStr[i] = intStride
		latStride *= ad.shardsAlongInner[i]
		intStride *= ad.shardSizeChunks[i]
	}

	return nil
}

// ChunksPerShard is the total chunk slots in one shard (layers included).
func (ad *ArrayDimensions) ChunksPerShard() uint64 {
	return ad.chunksPerShardIn * ad.layersPerShard
}

// ChunksPerLayer is the chunk count of a single append-axis layer
// within a shard (chunks_per_shard / layers_per_shard).
func (ad *ArrayDimensions) ChunksPerLayer() uint64 { return ad.chunksPerShardIn }

// LayersPerShard is the shard's extent along the append axis, in chunks.
func (ad *ArrayDimensions) LayersPerShard() uint64 { return ad.layersPerShard }

// AppendShardIndex is the append-axis shard coordinate implied by
// frame_id; it is the leading path segment of the v3 shard object key.
func (ad *ArrayDimensions) AppendShardIndex(frameID uint64) uint64 {
	return ad.AppendChunkIndex(frameID) / ad.layersPerShard
}

// LayerIndex is the position, within the current shard, of the
// append-axis layer this frame belongs to.
func (ad *ArrayDimensions) LayerIndex(frameID uint64) uint64 {
	return ad.AppendChunkIndex(frameID) % ad.layersPerShard
}

// innerChunkCoords converts an inner chunk index (over axes [1, n), the
// chunks_in_memory lattice) into per-axis coordinates. Uses
// chunksAlongFixed, which precompute() always fills regardless of
// whether sharding is enabled, so this is safe to call on v2 arrays too.
func (ad *ArrayDimensions) innerChunkCoords(innerChunkIndex uint64) []uint64 {
	n := len(ad.dims)
	coords := make([]uint64, n)
	rem := innerChunkIndex
	for i := n - 1; i >= 1; i-- {
		ca := ad.chunksAlongFixed[i]
		coords[i] = rem % ca
		rem /= ca
	}
	return coords
}

// InnerChunkCoords is the exported form of innerChunkCoords, used by the
// array writers to build an object key's per-axis path segments from a
// TileGroupOffset-derived inner chunk index.
func (ad *ArrayDimensions) InnerChunkCoords(innerChunkIndex uint64) []uint64 {
	return ad.innerChunkCoords(innerChunkIndex)
}

// ShardIndexForChunk returns the inner shard index (over axes [1, n))
// that the given inner chunk index belongs to.
func (ad *ArrayDimensions) ShardIndexForChunk(innerChunkIndex uint64) uint64 {
	coords := ad.innerChunkCoords(innerChunkIndex)
	var idx uint64
	for i := 1; i < len(ad.dims); i++ {
		idx += (coords[i] / ad.shardSizeChunks[i]) * ad.shardLatticeStr[i]
	}
	return idx
}

// ShardInternalIndex returns the chunk's position within its shard layer
// (0 <= result < ChunksPerLayer()).
func (ad *ArrayDimensions) ShardInternalIndex(innerChunkIndex uint64) uint64 {
	coords := ad.innerChunkCoords(innerChunkIndex)
	var idx uint64
	for i := 1; i < len(ad.dims); i++ {
		idx += (coords[i] % ad.shardSizeChunks[i]) * ad.shardInternalStr[i]
	}
	return idx
}

// ShardCoords decodes an inner shard index (over axes [1, n), the
// shards_along lattice) into per-axis shard coordinates. Used to build a
// shard object key's path segments.
func (ad *ArrayDimensions) ShardCoords(shardIndex uint64) []uint64 {
	n := len(ad.dims)
	coords := make([]uint64, n)
	rem := shardIndex
	for i := n - 1; i >= 1; i-- {
		sa := ad.shardsAlongInner[i]
		coords[i] = rem % sa
		rem /= sa
	}
	return coords
}

// ChunkIndicesForShard returns, in ascending shard-internal-index order,
// the inner chunk indices (over axes [1, n)) that belong to the given
// inner shard index. The same chunks_per_layer-sized list applies to
// every append-axis layer of that shard.
func (ad *ArrayDimensions) ChunkIndicesForShard(shardIndex uint64) []uint64 {
	n := len(ad.dims)

	// Decode the shard's own per-axis coordinate.
	shardCoord := ad.ShardCoords(shardIndex)

	total := ad.chunksPerShardIn
	out := make([]uint64, total)
	extent := make([]uint64, n)
	for i := 1; i < n; i++ {
		extent[i] = ad.shardSizeChunks[i]
	}

	for internal := uint64(0); internal < total; internal++ {
		rem := internal
		coords := make([]uint64, n)
		for i := n - 1; i >= 1; i-- {
			coords[i] = rem % extent[i]
			rem /= extent[i]
		}
		var chunkIdx uint64
		for i := 1; i < n; i++ {
			axisCoord := shardCoord[i]*ad.shardSizeChunks[i] + coords[i]
			stride := uint64(1)
			for j := i + 1; j < n; j++ {
				stride *= ad.chunksAlongInner[j]
			}
			chunkIdx += axisCoord * stride
		}
		out[internal] = chunkIdx
	}
	return out
}

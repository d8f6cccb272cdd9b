// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metadata

import (
	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
)

// shape returns the array's current shape: the append axis's extent is
// appendExtent as supplied by the caller (the group passes the configured
// size, or frames_written / frames_per_append_unit for an unbounded
// axis), and every other axis is its array_size_px, matching the v2/v3
// metadata examples in CORE §8.3 (e.g. S1's shape=[10,8,6,48,64] once
// fully written).
func shape(ad *dimension.ArrayDimensions, appendExtent uint64) []uint64 {
	n := ad.NDims()
	out := make([]uint64, n)
	out[0] = appendExtent
	for i := 1; i < n; i++ {
		out[i] = uint64(ad.At(i).ArraySizePx)
	}
	return out
}

func chunkShape(ad *dimension.ArrayDimensions) []uint32 {
	n := ad.NDims()
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = ad.At(i).ChunkSizePx
	}
	return out
}

// BuildV2Array builds the .zarray document for one array.
func BuildV2Array(ad *dimension.ArrayDimensions, appendExtent uint64, c *codec.Codec, p codec.Params) V2Array {
	doc := V2Array{
		ZarrFormat:         2,
		Shape:              shape(ad, appendExtent),
		Chunks:             chunkShape(ad),
		Dtype:              ad.DType().ZarrV2Code(),
		FillValue:          0,
		Order:              "C",
		Filters:            nil,
		DimensionSeparator: "/",
	}
	if c != nil && p.Codec != codec.None {
		doc.Compressor = &V2Compressor{
			ID:      "blosc",
			Cname:   p.Codec.BloscID(),
			Clevel:  p.Level,
			Shuffle: int(p.Shuffle),
		}
	}
	return doc
}

// BuildV3Array builds the zarr.json document for one v2-layout-free
// (unsharded) v3 array, and BuildV3ShardedArray for a sharded one.
func BuildV3Array(ad *dimension.ArrayDimensions, appendExtent uint64, names []string) V3Array {
	return V3Array{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      shape(ad, appendExtent),
		DataType:   ad.DType().ZarrV3Name(),
		ChunkGrid: V3ChunkGrid{
			Name:          "regular",
			Configuration: V3ChunkGridConfig{ChunkShape: chunkShape(ad)},
		},
		ChunkKeyEncoding: V3ChunkKeyEncoding{
			Name:          "default",
			Configuration: V3ChunkKeyEncodingConfig{Separator: "/"},
		},
		FillValue:           0,
		Codecs:              []V3Codec{{Name: "bytes"}},
		StorageTransformers: []interface{}{},
		DimensionNames:      names,
	}
}

// BuildV3ShardedArray builds the zarr.json document for a v3 array using
// the sharding_indexed codec (CORE §4.9's metadata rules): outer chunk
// shape is the shard shape, inner is the chunk shape.
func BuildV3ShardedArray(ad *dimension.ArrayDimensions, appendExtent uint64, names []string, p codec.Params, compressed bool) V3Array {
	n := ad.NDims()
	outerShape := make([]uint32, n)
	for i := 0; i < n; i++ {
		outerShape[i] = ad.At(i).ChunkSizePx * shardSizeOf(ad, i)
	}

	innerCodecs := []V3Codec{{Name: "bytes"}}
	if compressed {
		innerCodecs = append(innerCodecs, V3Codec{
			Name: "blosc",
			Configuration: V3BloscConfig{
				Cname:   p.Codec.BloscID(),
				Clevel:  p.Level,
				Shuffle: shuffleName(p.Shuffle),
			},
		})
	}

	sharding := V3Codec{
		Name: "sharding_indexed",
		Configuration: V3ShardingConfig{
			ChunkShape:    chunkShape(ad),
			Codecs:        innerCodecs,
			IndexCodecs:   []V3Codec{{Name: "bytes"}, {Name: "crc32c"}},
			IndexLocation: "end",
		},
	}

	return V3Array{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      shape(ad, appendExtent),
		DataType:   ad.DType().ZarrV3Name(),
		ChunkGrid: V3ChunkGrid{
			Name:          "regular",
			Configuration: V3ChunkGridConfig{ChunkShape: outerShape},
		},
		ChunkKeyEncoding: V3ChunkKeyEncoding{
			Name:          "default",
			Configuration: V3ChunkKeyEncodingConfig{Separator: "/"},
		},
		FillValue:           0,
		Codecs:              []V3Codec{sharding},
		StorageTransformers: []interface{}{},
		DimensionNames:      names,
	}
}

func shuffleName(s codec.Shuffle) string {
	switch s {
	case codec.ShuffleByte:
		return "shuffle"
	case codec.ShuffleBit:
		return "bitshuffle"
	default:
		return "noshuffle"
	}
}

// shardSizeOf is a small accessor shim: ArrayDimensions does not expose
// per-axis shard size directly, so this reads it back off the Dim (the
// value New() was constructed with, defaulted to 1 when unset).
func shardSizeOf(ad *dimension.ArrayDimensions, axis int) uint32 {
	s := ad.At(axis).ShardSizeChunks
	if s == 0 {
		return 1
	}
	return s
}

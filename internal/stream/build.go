// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"fmt"
	"strings"

	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// parseKind maps a YAML dimension kind string onto dimension.Kind.
// Validation already restricted this to a known set in ArrayConfig.validate.
func parseKind(s string) dimension.Kind {
	switch strings.ToLower(s) {
	case "space":
		return dimension.KindSpace
	case "channel":
		return dimension.KindChannel
	case "time":
		return dimension.KindTime
	default:
		return dimension.KindOther
	}
}

// dimsFromConfig translates an ArrayConfig's dimension list plus dtype
// into a dimension.Config, ready for dimension.New.
func dimsFromConfig(a config.ArrayConfig, version int) (dimension.Config, error) {
	dt, err := config.ParseDType(a.DType)
	if err != nil {
		return dimension.Config{}, err
	}
	dims := make([]dimension.Dim, len(a.Dimensions))
	for i, d := range a.Dimensions {
		dims[i] = dimension.Dim{
			Name:            d.Name,
			Kind:            parseKind(d.Kind),
			ArraySizePx:     d.ArraySizePx,
			ChunkSizePx:     d.ChunkSizePx,
			ShardSizeChunks: d.ShardSizeChunks,
			Unit:            d.Unit,
			Scale:           d.Scale,
		}
	}
	return dimension.Config{Dims: dims, DType: dt, ShardedV3: version == 3}, nil
}

// codecParamsFromConfig translates a CompressionConfig into codec.Params,
// using the array's element width as the shuffle type size.
func codecParamsFromConfig(c config.CompressionConfig, typeSize int) (codec.Params, error) {
	var id codec.ID
	switch c.Codec {
	case "", "none":
		id = codec.None
	case "blosc-lz4":
		id = codec.LZ4
	case "blosc-zstd":
		id = codec.Zstd
	default:
		return codec.Params{}, fmt.Errorf("unknown compression codec %q: %w", c.Codec, zarrerr.ErrInvalidArgument)
	}

	var sh codec.Shuffle
	switch c.Shuffle {
	case "", "none":
		sh = codec.ShuffleNone
	case "byte":
		sh = codec.ShuffleByte
	case "bit":
		sh = codec.ShuffleBit
	default:
		return codec.Params{}, fmt.Errorf("unknown shuffle mode %q: %w", c.Shuffle, zarrerr.ErrInvalidArgument)
	}

	return codec.Params{Codec: id, Level: c.Level, Shuffle: sh, TypeSize: typeSize}, nil
}

// codecFromConfig builds a *codec.Codec for a compressed array, or returns
// a nil Codec (meaning "store raw") when the codec is None.
func codecFromConfig(c config.CompressionConfig, typeSize int) (codec.Params, *codec.Codec, error) {
	p, err := codecParamsFromConfig(c, typeSize)
	if err != nil {
		return codec.Params{}, nil, err
	}
	if p.Codec == codec.None {
		return p, nil, nil
	}
	inst, err := codec.New(p)
	if err != nil {
		return codec.Params{}, nil, err
	}
	return p, inst, nil
}

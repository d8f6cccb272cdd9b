// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec implements the Blosc1-family compression wrapper: a
// shuffle filter followed by one of a small set of byte-oriented codecs.
// Compress returns its output in a newly allocated slice; chunk buffers
// are not compressed in place.
package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
	"github.com/pierrec/lz4/v4"
)

// ID names the underlying byte codec.
type ID int

const (
	None ID = iota
	LZ4
	Zstd
)

func (c ID) String() string {
	switch c {
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// BloscID returns the Blosc `cname` written into the zarr v2 compressor
// and the v3 blosc codec configuration. This must
// name the codec that actually produced the bytes on disk: Compress
// writes real LZ4 frames via github.com/pierrec/lz4/v4, not Blosc's own
// "blosclz" built-in, so a reader trusting this field can decompress
// them.
func (c ID) BloscID() string {
	switch c {
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return ""
	}
}

// Shuffle selects the byte rearrangement applied before compression.
type Shuffle int

const (
	ShuffleNone Shuffle = iota
	ShuffleByte
	ShuffleBit
)

// Params configures one codec instance.
type Params struct {
	Codec     ID
	Level     int // 0..9
	Shuffle   Shuffle
	TypeSize  int // bytes_of_type, needed by shuffle
}

func (p Params) validate() error {
	if p.Level < 0 || p.Level > 9 {
		return fmt.Errorf("compression level %d out of range [0,9]: %w", p.Level, zarrerr.ErrInvalidArgument)
	}
	if p.Codec != None && p.TypeSize <= 0 {
		return fmt.Errorf("type size must be > 0 when compression is enabled: %w", zarrerr.ErrInvalidArgument)
	}
	return nil
}

// Codec compresses and decompresses chunk buffers in the configured
// Blosc1-family scheme.
type Codec struct {
	p Params
}

// New validates params and returns a ready Codec.
func New(p Params) (*Codec, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Codec{p: p}, nil
}

// MaxCompressedSize returns the worst-case output size for an input of
// rawSize bytes.
func (c *Codec) MaxCompressedSize(rawSize int) int {
	if c.p.Codec == None {
		return rawSize
	}
	// Generous fixed overhead; both lz4 and zstd block formats have
	// bounded worst-case expansion well under this.
	return rawSize + rawSize/255 + 64
}

// Compress shuffles (if configured) then compresses src, returning a new
// slice holding only the compressed bytes (no trailing headroom).
func (c *Codec) Compress(src []byte) ([]byte, error) {
	if c.p.Codec == None {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	shuffled := src
	switch c.p.Shuffle {
	case ShuffleByte:
		shuffled = byteShuffle(src, c.p.TypeSize)
	case ShuffleBit:
		shuffled = bitShuffle(src, c.p.TypeSize)
	}

	var out []byte
	var err error
	switch c.p.Codec {
	case LZ4:
		out, err = compressLZ4(shuffled, c.p.Level)
	case Zstd:
		out, err = compressZstd(shuffled, c.p.Level)
	default:
		return nil, fmt.Errorf("unknown codec %v: %w", c.p.Codec, zarrerr.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("compressing chunk: %w: %w", err, zarrerr.ErrCompression)
	}
	if len(out) <= 0 {
		return nil, fmt.Errorf("codec returned non-positive size: %w", zarrerr.ErrCompression)
	}
	return out, nil
}

// Decompress reverses Compress; rawSize is the original uncompressed
// length, required to reverse the shuffle filter.
func (c *Codec) Decompress(src []byte, rawSize int) ([]byte, error) {
	if c.p.Codec == None {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	var unshuffled []byte
	var err error
	switch c.p.Codec {
	case LZ4:
		unshuffled, err = decompressLZ4(src, rawSize)
	case Zstd:
		unshuffled, err = decompressZstd(src, rawSize)
	default:
		return nil, fmt.Errorf("unknown codec %v: %w", c.p.Codec, zarrerr.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w: %w", err, zarrerr.ErrCompression)
	}

	switch c.p.Shuffle {
	case ShuffleByte:
		return byteUnshuffle(unshuffled, c.p.TypeSize), nil
	case ShuffleBit:
		return bitUnshuffle(unshuffled, c.p.TypeSize), nil
	default:
		return unshuffled, nil
	}
}

func compressLZ4(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{lz4.CompressionLevelOption(lz4Level(level))}
	if err := w.Apply(opts...); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(src []byte, rawSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := make([]byte, rawSize)
	n := 0
	for n < rawSize {
		m, err := r.Read(out[n:])
		n += m
		if err != nil {
			if m == 0 {
				return nil, err
			}
		}
		if m == 0 {
			break
		}
	}
	return out[:n], nil
}

// lz4Level maps a Blosc-style 0..9 level onto the library's level
// constants; 0 disables compression in Blosc semantics, mapped here to
// the library's fastest level rather than store-uncompressed, since the
// caller only calls into this path when a codec was explicitly chosen.
func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level <= 3:
		return lz4.Level1
	case level <= 5:
		return lz4.Level5
	case level <= 7:
		return lz4.Level7
	default:
		return lz4.Level9
	}
}

func compressZstd(src []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func decompressZstd(src []byte, rawSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, make([]byte, 0, rawSize))
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 4:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

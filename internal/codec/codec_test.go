// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func randomBuf(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestShuffleRoundTrip(t *testing.T) {
	for _, typeSize := range []int{1, 2, 4, 8} {
		src := randomBuf(typeSize*1024, 42)
		shuffled := byteShuffle(src, typeSize)
		back := byteUnshuffle(shuffled, typeSize)
		if !bytes.Equal(src, back) {
			t.Fatalf("byte shuffle round trip failed for typeSize=%d", typeSize)
		}

		bshuffled := bitShuffle(src, typeSize)
		bback := bitUnshuffle(bshuffled, typeSize)
		if !bytes.Equal(src, bback) {
			t.Fatalf("bit shuffle round trip failed for typeSize=%d", typeSize)
		}
	}
}

func TestCompressRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		codec   ID
		shuffle Shuffle
	}{
		{"lz4-none", LZ4, ShuffleNone},
		{"lz4-byte", LZ4, ShuffleByte},
		{"zstd-none", Zstd, ShuffleNone},
		{"zstd-bit", Zstd, ShuffleBit},
		{"none", None, ShuffleNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(Params{Codec: tc.codec, Level: 5, Shuffle: tc.shuffle, TypeSize: 2})
			if err != nil {
				t.Fatal(err)
			}
			src := randomBuf(2*4096, 7)
			compressed, err := c.Compress(src)
			if err != nil {
				t.Fatal(err)
			}
			back, err := c.Decompress(compressed, len(src))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(src, back) {
				t.Fatalf("%s: round trip mismatch", tc.name)
			}
		})
	}
}

func TestInvalidLevelRejected(t *testing.T) {
	if _, err := New(Params{Codec: LZ4, Level: 10, TypeSize: 2}); err == nil {
		t.Fatal("expected error for level 10")
	}
}

func TestBloscIDMatchesOnWireFormat(t *testing.T) {
	// BloscID feeds the .zarray/zarr.json cname field; it must name the
	// codec that actually produced the bytes, not Blosc's own "blosclz".
	if got := LZ4.BloscID(); got != "lz4" {
		t.Errorf("LZ4.BloscID() = %q, want %q", got, "lz4")
	}
	if got := Zstd.BloscID(); got != "zstd" {
		t.Errorf("Zstd.BloscID() = %q, want %q", got, "zstd")
	}
	if got := None.BloscID(); got != "" {
		t.Errorf("None.BloscID() = %q, want empty", got)
	}
}

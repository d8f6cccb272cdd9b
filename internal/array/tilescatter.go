// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package array implements the chunk-based (v2) and shard-based (v3)
// array writers: the components that scatter incoming frames into
// chunk-local layout and flush the result through a compression codec
// and a sink (CORE §4.8, §4.9).
package array

import "github.com/nishisan-dev/zarrstream/internal/dimension"

// scatterFrame copies one frame's data into the destination chunk
// buffers identified by dst (indexed by tile index, 0..nTilesY*nTilesX).
// It is shared by the v2 and v3 writers; only how `dst` resolves a tile
// index to a []byte slot differs between them.
//
// frameCols/frameRows are the frame's actual pixel extent (array_size,
// not chunk-padded); tileCols/tileRows are the chunk's pixel extent
// along X/Y. Ragged tiles at the array's edge copy only the in-bounds
// portion, per CORE §4.8.
func scatterFrame(
	ad *dimension.ArrayDimensions,
	frame []byte,
	chunkOffset uint64,
	dst func(tileIdx uint64) []byte,
) {
	n := ad.NDims()
	bytesPerPx := uint64(ad.BytesOfType())
	frameCols := uint64(ad.At(n - 1).ArraySizePx)
	tileCols := uint64(ad.At(n - 1).ChunkSizePx)
	frameRows := uint64(ad.At(n - 2).ArraySizePx)
	tileRows := uint64(ad.At(n - 2).ChunkSizePx)

	bytesPerRow := tileCols * bytesPerPx
	nTilesX := ad.NTilesX()
	nTilesY := ad.NTilesY()

	for tileIdx := uint64(0); tileIdx < nTilesY*nTilesX; tileIdx++ {
		chunk := dst(tileIdx)
		if chunk == nil {
			continue
		}
		tileIdxY := tileIdx / nTilesX
		tileIdxX := tileIdx % nTilesX

		chunkPos := chunkOffset
		for k := uint64(0); k < tileRows; k++ {
			frameRow := tileIdxY*tileRows + k
			if frameRow < frameRows {
				frameCol := tileIdxX * tileCols
				regionWidth := tileCols
				if frameCol+regionWidth > frameCols {
					regionWidth = frameCols - frameCol
				}
				regionStart := bytesPerPx * (frameRow*frameCols + frameCol)
				nbytes := regionWidth * bytesPerPx

				copy(chunk[chunkPos:chunkPos+nbytes], frame[regionStart:regionStart+nbytes])
			}
			chunkPos += bytesPerRow
		}
	}
}

// FrameSizeBytes is the exact byte length of one whole-plane frame for
// ad: the Y and X array_size_px times the element width. Every
// non-spatial axis is excluded, since a frame covers one full Y-by-X
// plane only.
func FrameSizeBytes(ad *dimension.ArrayDimensions) uint64 {
	n := ad.NDims()
	return uint64(ad.At(n-2).ArraySizePx) * uint64(ad.At(n-1).ArraySizePx) * uint64(ad.BytesOfType())
}

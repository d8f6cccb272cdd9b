// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package array

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/pool"
	"github.com/nishisan-dev/zarrstream/internal/sink"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// SinkFactory builds a Sink for the object key relative to an array's
// root (e.g. "0/1/0/2/3" for the v2 chunk at append-chunk 0, inner
// indices 1/0/2/3).
type SinkFactory func(ctx context.Context, relKey string) (sink.Sink, error)

// Writer is the common surface of ChunkWriter and ShardWriter, used by
// the group writer so it can route frames without caring whether the
// target array is v2 chunk-based or v3 shard-based.
type Writer interface {
	WriteFrame(ctx context.Context, frame []byte) error
	Close(ctx context.Context) error
	FramesWritten() uint64
}

var (
	_ Writer = (*ChunkWriter)(nil)
	_ Writer = (*ShardWriter)(nil)
)

// ChunkWriter is the v2 chunk-based array writer (CORE §4.8): one
// object per chunk, written whenever the in-memory chunk lattice fills.
type ChunkWriter struct {
	dims    *dimension.ArrayDimensions
	codec   *codec.Codec // nil when uncompressed
	sinks   SinkFactory
	pool    *pool.Pool
	log     *slog.Logger
	failure *zarrerr.FailureSlot

	mu               sync.Mutex
	buffers          [][]byte // chunksInMemory slots, lazily allocated
	framesWritten    uint64
	appendChunkIndex uint64
}

// NewChunkWriter builds a ChunkWriter over ad, flushing compressed
// chunks through sinks built by sf.
func NewChunkWriter(ad *dimension.ArrayDimensions, c *codec.Codec, sf SinkFactory, p *pool.Pool, log *slog.Logger) *ChunkWriter {
	if log == nil {
		log = slog.Default()
	}
	return &ChunkWriter{
		dims:    ad,
		codec:   c,
		sinks:   sf,
		pool:    p,
		log:     log,
		failure: zarrerr.NewFailureSlot(),
		buffers: make([][]byte, ad.ChunksInMemory()),
	}
}

// WriteFrame scatters one whole-plane frame into the chunk lattice,
// flushing to sinks whenever the append-axis chunk completes.
func (w *ChunkWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if err := w.failure.Err(); err != nil {
		return err
	}
	want := FrameSizeBytes(w.dims)
	if uint64(len(frame)) != want {
		return fmt.Errorf("frame size %d != expected %d: %w", len(frame), want, zarrerr.ErrInvalidArgument)
	}

	w.mu.Lock()
	frameID := w.dims.TransposeFrameID(w.framesWritten)
	groupOffset := w.dims.TileGroupOffset(frameID)
	chunkOffset := w.dims.ChunkInternalOffset(frameID)
	bytesPerChunk := w.dims.BytesPerChunk()

	scatterFrame(w.dims, frame, chunkOffset, func(tileIdx uint64) []byte {
		slot := groupOffset + tileIdx
		if w.buffers[slot] == nil {
			w.buffers[slot] = make([]byte, bytesPerChunk)
		}
		return w.buffers[slot]
	})

	w.framesWritten++
	framesPerAppendChunk := uint64(w.dims.At(0).ChunkSizePx) * appendLayerFrameMultiplier(w.dims)
	shouldFlush := w.framesWritten%framesPerAppendChunk == 0
	w.mu.Unlock()

	if shouldFlush {
		return w.flush(ctx)
	}
	return nil
}

// appendLayerFrameMultiplier is the product of array_size over every
// non-spatial, non-append axis: CORE §4.8's "chunk_size_append x Pi
// inner array_size".
func appendLayerFrameMultiplier(ad *dimension.ArrayDimensions) uint64 {
	n := ad.NDims()
	m := uint64(1)
	for i := 1; i < n-2; i++ {
		m *= uint64(ad.At(i).ArraySizePx)
	}
	return m
}

// flush compresses and writes every allocated chunk in parallel, then
// resets the in-memory lattice for the next append-chunk cycle.
func (w *ChunkWriter) flush(ctx context.Context) error {
	w.mu.Lock()
	buffers := w.buffers
	appendIdx := w.appendChunkIndex
	w.appendChunkIndex++
	w.buffers = make([][]byte, w.dims.ChunksInMemory())
	w.mu.Unlock()

	var wg sync.WaitGroup
	for slot, buf := range buffers {
		if buf == nil {
			continue
		}
		slot, buf := slot, buf
		wg.Add(1)
		job := func(ctx context.Context) error {
			defer wg.Done()
			return w.flushChunk(ctx, appendIdx, uint64(slot), buf)
		}
		if w.pool != nil {
			if !w.pool.PushBlocking(job) {
				wg.Done()
			}
		} else {
			job(ctx)
		}
	}
	wg.Wait()

	if err := w.failure.Err(); err != nil {
		return err
	}
	if w.pool != nil {
		if err := w.pool.Err(); err != nil {
			w.failure.Set(err)
			return err
		}
	}
	return nil
}

func (w *ChunkWriter) flushChunk(ctx context.Context, appendIdx, innerSlot uint64, buf []byte) error {
	out := buf
	if w.codec != nil {
		compressed, err := w.codec.Compress(buf)
		if err != nil {
			w.failure.Set(err)
			return err
		}
		out = compressed
	}

	key := chunkObjectKey(w.dims, appendIdx, innerSlot)
	s, err := w.sinks(ctx, key)
	if err != nil {
		w.failure.Set(err)
		return err
	}
	if err := s.Write(ctx, 0, out); err != nil {
		w.failure.Set(err)
		return err
	}
	if err := s.Finalize(ctx); err != nil {
		w.failure.Set(err)
		return err
	}
	return nil
}

// chunkObjectKey builds "<append_chunk_index>/<inner lattice indices>".
func chunkObjectKey(ad *dimension.ArrayDimensions, appendIdx, innerSlot uint64) string {
	n := ad.NDims()
	coords := ad.InnerChunkCoords(innerSlot)

	key := fmt.Sprintf("%d", appendIdx)
	for i := 1; i < n; i++ {
		key += fmt.Sprintf("/%d", coords[i])
	}
	return key
}

// Close flushes any partial final chunk and surfaces the first worker
// failure, per CORE §4.8's close semantics.
func (w *ChunkWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	hasPartial := false
	for _, b := range w.buffers {
		if b != nil {
			hasPartial = true
			break
		}
	}
	w.mu.Unlock()

	if hasPartial {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	return w.failure.Err()
}

// FramesWritten returns the number of frames written so far.
func (w *ChunkWriter) FramesWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framesWritten
}

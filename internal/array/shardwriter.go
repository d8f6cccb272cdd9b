// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package array

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/pool"
	"github.com/nishisan-dev/zarrstream/internal/sink"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// missingChunkSentinel marks an index-table entry whose chunk was never
// written (CORE §4.9's ragged-shard case).
const missingChunkSentinel = ^uint64(0)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// shardState tracks one in-flight shard object: its growing index table,
// write cursor, and the current layer's per-chunk buffers.
type shardState struct {
	innerShardIdx uint64
	sink          sink.Sink
	fileOffset    uint64
	indexTable    []uint64 // 2 * chunksPerShard, [offset0,size0,offset1,size1,...]
	layerBuf      [][]byte // chunksPerLayer slots, reset every layer
}

// ShardWriter is the v3 shard-based array writer (CORE §4.9): chunks are
// grouped into shard objects, each holding a contiguous run of
// compressed chunks followed by an index table and a CRC32C trailer.
type ShardWriter struct {
	dims    *dimension.ArrayDimensions
	codec   *codec.Codec
	sinks   SinkFactory
	pool    *pool.Pool
	log     *slog.Logger
	failure *zarrerr.FailureSlot

	mu                sync.Mutex
	shards            map[uint64]*shardState // innerShardIdx -> state, for the current append shard only
	currentAppendIdx  uint64
	haveAppendIdx     bool
	framesWritten     uint64
}

// NewShardWriter builds a ShardWriter over ad (which must have been
// constructed with Config.ShardedV3 set).
func NewShardWriter(ad *dimension.ArrayDimensions, c *codec.Codec, sf SinkFactory, p *pool.Pool, log *slog.Logger) *ShardWriter {
	if log == nil {
		log = slog.Default()
	}
	return &ShardWriter{
		dims:    ad,
		codec:   c,
		sinks:   sf,
		pool:    p,
		log:     log,
		failure: zarrerr.NewFailureSlot(),
		shards:  make(map[uint64]*shardState),
	}
}

// WriteFrame scatters one frame into the chunk lattice, routing each
// affected chunk into the owning shard's current layer buffer, and rolls
// layers/shards forward as the append axis advances.
func (w *ShardWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if err := w.failure.Err(); err != nil {
		return err
	}
	want := FrameSizeBytes(w.dims)
	if uint64(len(frame)) != want {
		return fmt.Errorf("frame size %d != expected %d: %w", len(frame), want, zarrerr.ErrInvalidArgument)
	}

	w.mu.Lock()
	frameID := w.dims.TransposeFrameID(w.framesWritten)
	appendShardIdx := w.dims.AppendShardIndex(frameID)
	groupOffset := w.dims.TileGroupOffset(frameID)
	chunkOffset := w.dims.ChunkInternalOffset(frameID)
	bytesPerChunk := w.dims.BytesPerChunk()

	if err := w.rollToAppendShardLocked(ctx, appendShardIdx); err != nil {
		w.mu.Unlock()
		return err
	}

	scatterFrame(w.dims, frame, chunkOffset, func(tileIdx uint64) []byte {
		innerChunkIdx := groupOffset + tileIdx
		st := w.shardForChunkLocked(ctx, innerChunkIdx)
		if st == nil {
			return nil
		}
		slot := w.dims.ShardInternalIndex(innerChunkIdx)
		if st.layerBuf[slot] == nil {
			st.layerBuf[slot] = make([]byte, bytesPerChunk)
		}
		return st.layerBuf[slot]
	})

	w.framesWritten++
	framesPerAppendChunk := uint64(w.dims.At(0).ChunkSizePx) * appendLayerFrameMultiplier(w.dims)
	layerComplete := w.framesWritten%framesPerAppendChunk == 0
	w.mu.Unlock()

	if layerComplete {
		return w.flushLayer(ctx)
	}
	return nil
}

// shardForChunkLocked returns the shardState owning innerChunkIdx,
// creating it (and its sink) lazily. Caller holds w.mu.
func (w *ShardWriter) shardForChunkLocked(ctx context.Context, innerChunkIdx uint64) *shardState {
	shardIdx := w.dims.ShardIndexForChunk(innerChunkIdx)
	if st, ok := w.shards[shardIdx]; ok {
		return st
	}

	key := shardObjectKey(w.dims, w.currentAppendIdx, shardIdx)
	s, err := w.sinks(ctx, key)
	if err != nil {
		w.failure.Set(err)
		return nil
	}
	st := &shardState{
		innerShardIdx: shardIdx,
		sink:          s,
		indexTable:    newIndexTable(w.dims.ChunksPerShard()),
		layerBuf:      make([][]byte, w.dims.ChunksPerLayer()),
	}
	w.shards[shardIdx] = st
	return st
}

func newIndexTable(chunksPerShard uint64) []uint64 {
	t := make([]uint64, 2*chunksPerShard)
	for i := range t {
		t[i] = missingChunkSentinel
	}
	return t
}

// rollToAppendShardLocked finalizes every active shard when frameID has
// moved into a new append shard. Caller holds w.mu.
func (w *ShardWriter) rollToAppendShardLocked(ctx context.Context, appendShardIdx uint64) error {
	if !w.haveAppendIdx {
		w.currentAppendIdx = appendShardIdx
		w.haveAppendIdx = true
		return nil
	}
	if appendShardIdx == w.currentAppendIdx {
		return nil
	}
	if err := w.finalizeActiveShardsLocked(ctx); err != nil {
		return err
	}
	w.currentAppendIdx = appendShardIdx
	return nil
}

// flushLayer compresses and appends every active shard's current layer,
// then resets the layer buffers for the next append-chunk cycle.
func (w *ShardWriter) flushLayer(ctx context.Context) error {
	w.mu.Lock()
	states := make([]*shardState, 0, len(w.shards))
	for _, st := range w.shards {
		states = append(states, st)
	}
	w.mu.Unlock()

	var wg sync.WaitGroup
	for _, st := range states {
		st := st
		wg.Add(1)
		job := func(ctx context.Context) error {
			defer wg.Done()
			return w.flushOneLayer(ctx, st)
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

// flushOneLayer compresses every occupied chunk slot in st's current
// layer, concatenates them (defragmentation: no gaps between chunks
// written back-to-back), writes the blob at st.fileOffset, records each
// chunk's (offset,size) in the index table, and resets the layer buffer.
func (w *ShardWriter) flushOneLayer(ctx context.Context, st *shardState) error {
	layerIdx := w.currentLayerIndex()
	chunksPerLayer := uint64(len(st.layerBuf))

	var blob []byte
	var sizes []int
	touched := make([]int, 0, chunksPerLayer)
	for slot, buf := range st.layerBuf {
		if buf == nil {
			continue
		}
		out := buf
		if w.codec != nil {
			compressed, err := w.codec.Compress(buf)
			if err != nil {
				w.failure.Set(err)
				return err
			}
			out = compressed
		}
		blob = append(blob, out...)
		sizes = append(sizes, len(out))
		touched = append(touched, slot)
	}
	if len(touched) == 0 {
		for slot := range st.layerBuf {
			st.layerBuf[slot] = nil
		}
		return nil
	}

	if err := st.sink.Write(ctx, int64(st.fileOffset), blob); err != nil {
		w.failure.Set(err)
		return err
	}

	off := st.fileOffset
	for i, slot := range touched {
		globalSlot := layerIdx*chunksPerLayer + uint64(slot)
		st.indexTable[2*globalSlot] = off
		st.indexTable[2*globalSlot+1] = uint64(sizes[i])
		off += uint64(sizes[i])
	}
	st.fileOffset = off

	for slot := range st.layerBuf {
		st.layerBuf[slot] = nil
	}
	return nil
}

// currentLayerIndex returns the in-shard layer position implied by the
// most recently completed append-chunk, i.e. LayerIndex of the last
// frame written before the flush that triggered this call.
func (w *ShardWriter) currentLayerIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.framesWritten == 0 {
		return 0
	}
	lastFrameID := w.dims.TransposeFrameID(w.framesWritten - 1)
	return w.dims.LayerIndex(lastFrameID)
}

// finalizeActiveShardsLocked appends the index table and CRC32C trailer
// to every active shard and finalizes its sink. Caller holds w.mu.
func (w *ShardWriter) finalizeActiveShardsLocked(ctx context.Context) error {
	for _, st := range w.shards {
		if err := writeIndexTableAndTrailer(ctx, st); err != nil {
			w.failure.Set(err)
			return err
		}
		if err := st.sink.Finalize(ctx); err != nil {
			w.failure.Set(err)
			return err
		}
	}
	w.shards = make(map[uint64]*shardState)
	return nil
}

// writeIndexTableAndTrailer serializes st's index table as little-endian
// uint64 pairs followed by a CRC32C (Castagnoli) checksum of the table,
// per CORE §4.9's shard trailer layout.
func writeIndexTableAndTrailer(ctx context.Context, st *shardState) error {
	buf := make([]byte, len(st.indexTable)*8+4)
	for i, v := range st.indexTable {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	sum := crc32.Checksum(buf[:len(st.indexTable)*8], crc32cTable)
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], sum)

	return st.sink.Write(ctx, int64(st.fileOffset), buf)
}

// shardObjectKey builds "c/<append_shard_index>/<inner shard lattice
// indices>", matching CORE §4.9's v3 shard path.
func shardObjectKey(ad *dimension.ArrayDimensions, appendShardIdx, innerShardIdx uint64) string {
	n := ad.NDims()
	coords := ad.ShardCoords(innerShardIdx)
	key := fmt.Sprintf("c/%d", appendShardIdx)
	for i := 1; i < n; i++ {
		key += fmt.Sprintf("/%d", coords[i])
	}
	return key
}

// Close flushes any partial final layer, finalizes every active shard,
// and surfaces the first worker failure.
func (w *ShardWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	hasPartial := false
	for _, st := range w.shards {
		for _, b := range st.layerBuf {
			if b != nil {
				hasPartial = true
				break
			}
		}
	}
	w.mu.Unlock()

	if hasPartial {
		if err := w.flushLayer(ctx); err != nil {
			return err
		}
	}

	w.mu.Lock()
	err := w.finalizeActiveShardsLocked(ctx)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return w.failure.Err()
}

// FramesWritten returns the number of frames written so far.
func (w *ShardWriter) FramesWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framesWritten
}

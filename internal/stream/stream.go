// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream implements the stream coordinator (CORE §4.12): the
// top-level object the caller drives with Append/Close. It builds the
// per-array dimension models, codecs, and writers out of a StreamConfig,
// owns the bounded frame queue and worker pool wiring them together, and
// is the sole owner of partial-frame buffering (neither the queue nor
// the array writers ever see a less-than-whole-frame write).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/zarrstream/internal/array"
	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/downsample"
	"github.com/nishisan-dev/zarrstream/internal/group"
	"github.com/nishisan-dev/zarrstream/internal/pool"
	"github.com/nishisan-dev/zarrstream/internal/queue"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// arrayState tracks one addressable array's partial-frame buffer: bytes
// deposited by Append that do not yet amount to a whole frame.
type arrayState struct {
	mu        sync.Mutex
	frameSize uint64
	partial   []byte
}

// Stream is the running coordinator for one configured store: it owns
// the group writer, the frame queue and its single dispatcher, the
// worker pool, and the store root's sink backend.
type Stream struct {
	log *slog.Logger
	cfg *config.StreamConfig

	root *storeRoot
	grp  *group.Group
	pl   *pool.Pool
	q    *queue.Queue

	states map[string]*arrayState

	failure        *zarrerr.FailureSlot
	dispatcherDone chan struct{}
	janitor        *cron.Cron

	closeOnce sync.Once
	closeErr  error

	customMu      sync.Mutex
	customWritten bool
}

// New validates cfg, prepares the store root, builds every configured
// array's writer, and starts the frame dispatcher. The returned Stream
// is ready for Append.
func New(ctx context.Context, cfg *config.StreamConfig, log *slog.Logger) (*Stream, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := newStoreRoot(ctx, cfg)
	if err != nil {
		return nil, err
	}

	workers := pool.New(cfg.Pool.Workers, cfg.Pool.QueueDepth, log)

	baseCfg := cfg.Arrays[0]
	baseDimsCfg, err := dimsFromConfig(baseCfg, cfg.Store.Version)
	if err != nil {
		return nil, err
	}
	baseAD, err := dimension.New(baseDimsCfg)
	if err != nil {
		return nil, err
	}
	baseP, baseCodec, err := codecFromConfig(baseCfg.Compression, baseAD.BytesOfType())
	if err != nil {
		return nil, err
	}
	baseWriter := buildWriter(cfg.Store.Version, baseAD, baseCodec, root.arraySinkFactory("0"), workers, log)

	grp := group.New(cfg.Store.Version, baseAD, baseP, baseCodec, baseWriter, root.build, log)

	states := map[string]*arrayState{
		"": {frameSize: array.FrameSizeBytes(baseAD)},
	}

	if cfg.Downsample.Enabled {
		mode := downsample.Mode2D
		if cfg.Downsample.Needs3DDownsample {
			mode = downsample.Mode3D
		}
		cur := baseDimsCfg
		for lvl := 1; lvl <= cfg.Downsample.Levels; lvl++ {
			cur = downsample.LevelDims(cur)
			lad, err := dimension.New(cur)
			if err != nil {
				return nil, err
			}
			lp, lc, err := codecFromConfig(baseCfg.Compression, lad.BytesOfType())
			if err != nil {
				return nil, err
			}
			lw := buildWriter(cfg.Store.Version, lad, lc, root.arraySinkFactory(fmt.Sprintf("%d", lvl)), workers, log)
			grp.AddLevel(lad, lp, lc, lw, cfg.Downsample.Method, mode)
		}
	}

	for _, a := range cfg.Arrays[1:] {
		dimsCfg, err := dimsFromConfig(a, cfg.Store.Version)
		if err != nil {
			return nil, err
		}
		ad, err := dimension.New(dimsCfg)
		if err != nil {
			return nil, err
		}
		p, c, err := codecFromConfig(a.Compression, ad.BytesOfType())
		if err != nil {
			return nil, err
		}
		w := buildWriter(cfg.Store.Version, ad, c, root.arraySinkFactory(a.Key), workers, log)
		grp.AddArray(a.Key, ad, p, c, w)
		states[a.Key] = &arrayState{frameSize: array.FrameSizeBytes(ad)}
	}

	qCap := cfg.Queue.Capacity
	if qCap <= 0 {
		qCap = queue.Capacity(int(array.FrameSizeBytes(baseAD)))
	}

	s := &Stream{
		log:            log,
		cfg:            cfg,
		root:           root,
		grp:            grp,
		pl:             workers,
		q:              queue.New(qCap),
		states:         states,
		failure:        zarrerr.NewFailureSlot(),
		dispatcherDone: make(chan struct{}),
		janitor:        startJanitor(cfg.Janitor, root.handles, log),
	}
	go s.runDispatcher()

	if estimate, estErr := EstimateMaxMemoryUsage(cfg); estErr == nil {
		WarnIfEstimateExceedsSystemMemory(estimate, log)
	}

	return s, nil
}

func buildWriter(version int, ad *dimension.ArrayDimensions, c *codec.Codec, sf array.SinkFactory, p *pool.Pool, log *slog.Logger) array.Writer {
	if version == 3 {
		return array.NewShardWriter(ad, c, sf, p, log)
	}
	return array.NewChunkWriter(ad, c, sf, p, log)
}

// Append slices data into whole frames for the array named by arrayKey
// ("" selects the base/sole array), buffering any trailing partial frame
// across calls, and enqueues each completed frame for the dispatcher.
// It returns the number of bytes consumed from data (always len(data),
// since any remainder is retained in the partial buffer) or an error if
// a prior background failure has been recorded.
func (s *Stream) Append(ctx context.Context, arrayKey string, data []byte) (int, error) {
	if err := s.failure.Err(); err != nil {
		return 0, err
	}
	st, ok := s.states[arrayKey]
	if !ok {
		return 0, fmt.Errorf("unknown array key %q: %w", arrayKey, zarrerr.ErrInvalidArgument)
	}

	frameSize := int(st.frameSize)
	consumed := len(data)
	st.mu.Lock()
	var frames [][]byte
	for len(data) > 0 {
		if len(st.partial) == 0 && len(data) >= frameSize {
			frame := make([]byte, frameSize)
			copy(frame, data[:frameSize])
			frames = append(frames, frame)
			data = data[frameSize:]
			continue
		}
		if st.partial == nil {
			st.partial = make([]byte, 0, frameSize)
		}
		room := frameSize - len(st.partial)
		n := room
		if n > len(data) {
			n = len(data)
		}
		st.partial = append(st.partial, data[:n]...)
		data = data[n:]
		if len(st.partial) == frameSize {
			frames = append(frames, st.partial)
			st.partial = nil
		}
	}
	st.mu.Unlock()

	for _, f := range frames {
		if err := s.q.Push(queue.Frame{ArrayKey: arrayKey, Data: f}); err != nil {
			return consumed, fmt.Errorf("enqueueing frame: %w: %w", err, zarrerr.ErrIO)
		}
	}
	return consumed, nil
}

// runDispatcher is the queue's single consumer: it pops frames and
// routes each one to the target array's writer via the group, recording
// the first failure so subsequent Append/Close calls surface it.
func (s *Stream) runDispatcher() {
	defer close(s.dispatcherDone)
	for {
		f, ok := s.q.Pop()
		if !ok {
			return
		}
		if err := s.grp.WriteFrame(context.Background(), f.ArrayKey, f.Data); err != nil {
			s.failure.Set(err)
			s.log.Error("write_frame failed", "array", f.ArrayKey, "error", err)
		}
	}
}

// WriteCustomMetadata writes an arbitrary JSON document at the store
// root's "acquire.json", refusing a second write unless overwrite is
// set (CORE §4.12).
func (s *Stream) WriteCustomMetadata(ctx context.Context, doc []byte, overwrite bool) error {
	if !json.Valid(doc) {
		return fmt.Errorf("custom metadata is not valid JSON: %w", zarrerr.ErrInvalidArgument)
	}

	s.customMu.Lock()
	defer s.customMu.Unlock()
	if s.customWritten && !overwrite {
		return fmt.Errorf("acquire.json already written: %w", zarrerr.ErrWillNotOverwrite)
	}

	sk, err := s.root.build(ctx, "acquire.json")
	if err != nil {
		return err
	}
	if err := sk.Write(ctx, 0, doc); err != nil {
		return err
	}
	if err := sk.Finalize(ctx); err != nil {
		return err
	}
	s.customWritten = true
	return nil
}

// CurrentMemoryUsage is a point-in-time estimate of bytes currently held
// in flight: queued, not-yet-dispatched frames plus every array's
// partial-frame buffer. Unlike EstimateMaxMemoryUsage, this reflects the
// stream's actual, current state rather than the configured worst case.
func (s *Stream) CurrentMemoryUsage() uint64 {
	var total uint64
	maxFrame := uint64(0)
	for _, st := range s.states {
		st.mu.Lock()
		total += uint64(len(st.partial))
		if st.frameSize > maxFrame {
			maxFrame = st.frameSize
		}
		st.mu.Unlock()
	}
	total += uint64(s.q.Len()) * maxFrame
	return total
}

// Close drains the frame queue through the dispatcher, stops the
// janitor, flushes every array writer and writes group/array metadata,
// shuts down the worker pool, then, if configured, runs the cold-tier
// gzip pass over the written v2 chunk files. It returns the first error
// encountered, preferring a background write failure over a close-time
// one.
func (s *Stream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.q.Close()
		<-s.dispatcherDone

		if s.janitor != nil {
			s.janitor.Stop()
		}

		if err := s.grp.Close(ctx); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.pl.AwaitStop()
		if err := s.pl.Err(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}

		if bgErr := s.failure.Err(); bgErr != nil {
			s.closeErr = bgErr
		}

		if s.closeErr == nil && s.cfg.PostClose.GzipChunks && s.cfg.Store.Version == 2 && s.root.fsRoot != "" {
			if err := postCloseGzip(s.root.fsRoot, s.log); err != nil {
				s.closeErr = err
			}
		}

		s.root.close()
	})
	return s.closeErr
}

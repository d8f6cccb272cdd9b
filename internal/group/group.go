// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package group implements the group/multiscale writer (CORE §4.11):
// it owns one or more named arrays, routes incoming frames to the right
// one, drives the downsampler for multiscale groups, and emits the
// group- and array-level Zarr/OME-NGFF metadata documents on close.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/zarrstream/internal/array"
	"github.com/nishisan-dev/zarrstream/internal/codec"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/downsample"
	"github.com/nishisan-dev/zarrstream/internal/metadata"
	"github.com/nishisan-dev/zarrstream/internal/sink"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// MetaSinkFactory builds a Sink for a path relative to the store root
// (e.g. ".zgroup", "0/.zarray"), used for metadata documents.
type MetaSinkFactory func(ctx context.Context, relKey string) (sink.Sink, error)

type arrayEntry struct {
	key       string
	writer    array.Writer
	dims      *dimension.ArrayDimensions
	codecP    codec.Params
	codecInst *codec.Codec
}

// Group owns one or more arrays and, for multiscale groups, the
// downsampler cascading level frames into the level arrays.
type Group struct {
	version  int // 2 or 3
	log      *slog.Logger
	metaSink MetaSinkFactory

	base      *arrayEntry
	levels    []*arrayEntry // levels[0] is level 1, etc.
	extras    map[string]*arrayEntry
	pyramid   *downsample.Pyramid
	method    string
	multiscale bool

	framesWritten uint64
}

// New builds a single-array (non-multiscale, non-multi-array) Group.
func New(version int, base *dimension.ArrayDimensions, baseCodecP codec.Params, baseCodec *codec.Codec, baseWriter array.Writer, metaSink MetaSinkFactory, log *slog.Logger) *Group {
	if log == nil {
		log = slog.Default()
	}
	return &Group{
		version:  version,
		log:      log,
		metaSink: metaSink,
		base:     &arrayEntry{key: "0", writer: baseWriter, dims: base, codecP: baseCodecP, codecInst: baseCodec},
		extras:   make(map[string]*arrayEntry),
	}
}

// AddLevel registers a downsampled level's array writer, in ascending
// level order (first call is level 1), and rebuilds the Pyramid so it
// produces frames for every level registered so far.
func (g *Group) AddLevel(dims *dimension.ArrayDimensions, p codec.Params, c *codec.Codec, w array.Writer, method string, mode downsample.Mode) {
	g.multiscale = true
	g.method = method
	g.levels = append(g.levels, &arrayEntry{key: fmt.Sprintf("%d", len(g.levels)+1), writer: w, dims: dims, codecP: p, codecInst: c})
	g.pyramid = downsample.NewPyramid(toConfig(g.base.dims), len(g.levels), mode, methodOf(method))
}

func methodOf(s string) downsample.Method {
	m, err := downsample.ParseMethod(s)
	if err != nil {
		return downsample.Mean
	}
	return m
}

func toConfig(ad *dimension.ArrayDimensions) dimension.Config {
	n := ad.NDims()
	dims := make([]dimension.Dim, n)
	for i := 0; i < n; i++ {
		dims[i] = ad.At(i)
	}
	return dimension.Config{Dims: dims, DType: ad.DType()}
}

// AddArray registers an additional, independently addressed array for
// multi-array (non-multiscale) groups.
func (g *Group) AddArray(key string, dims *dimension.ArrayDimensions, p codec.Params, c *codec.Codec, w array.Writer) {
	g.extras[key] = &arrayEntry{key: key, writer: w, dims: dims, codecP: p, codecInst: c}
}

// WriteFrame routes frame to the array named by key ("" selects the
// base/sole array), verifies a full-frame write, then for multiscale
// groups feeds the raw frame to the downsampler and drains every level
// output produced by this call into its corresponding array.
func (g *Group) WriteFrame(ctx context.Context, key string, frame []byte) error {
	target := g.base
	if key != "" {
		if e, ok := g.extras[key]; ok {
			target = e
		} else if key != g.base.key {
			return fmt.Errorf("unknown array key %q: %w", key, zarrerr.ErrInvalidArgument)
		}
	}

	if err := target.writer.WriteFrame(ctx, frame); err != nil {
		return err
	}

	if !g.multiscale || target != g.base {
		g.framesWritten++
		return nil
	}

	n := g.base.dims.NDims()
	rows := int(g.base.dims.At(n - 2).ArraySizePx)
	cols := int(g.base.dims.At(n - 1).ArraySizePx)
	outputs, err := g.pyramid.Submit(0, frame, rows, cols)
	if err != nil {
		return err
	}
	for _, lf := range outputs {
		entry := g.levels[lf.Level-1]
		if err := entry.writer.WriteFrame(ctx, lf.Data); err != nil {
			return err
		}
	}
	g.framesWritten++
	return nil
}

// Close flushes every owned array writer, then writes group- and
// array-level metadata documents.
func (g *Group) Close(ctx context.Context) error {
	all := g.allEntries()

	var firstErr error
	for _, e := range all {
		if err := e.writer.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if err := g.writeMetadata(ctx); err != nil {
		return err
	}
	return nil
}

func (g *Group) allEntries() []*arrayEntry {
	all := []*arrayEntry{g.base}
	all = append(all, g.levels...)
	for _, e := range g.extras {
		all = append(all, e)
	}
	return all
}

func (g *Group) writeMetadata(ctx context.Context) error {
	if g.version == 2 {
		return g.writeV2Metadata(ctx)
	}
	return g.writeV3Metadata(ctx)
}

func (g *Group) writeV2Metadata(ctx context.Context) error {
	if err := g.writeJSON(ctx, ".zgroup", metadata.V2Group{ZarrFormat: 2}); err != nil {
		return err
	}

	for _, e := range g.allEntries() {
		doc := metadata.BuildV2Array(e.dims, appendExtent(e), e.codecInst, e.codecP)
		if err := g.writeJSON(ctx, e.key+"/.zarray", doc); err != nil {
			return err
		}
	}

	if g.multiscale {
		ms := g.buildMultiscale("0.4")
		attrs := map[string]interface{}{"multiscales": []metadata.Multiscale{ms}}
		return g.writeJSON(ctx, ".zattrs", attrs)
	}
	return nil
}

func (g *Group) writeV3Metadata(ctx context.Context) error {
	attrs := map[string]interface{}{}
	if g.multiscale {
		ms := g.buildMultiscale("0.5")
		attrs["ome"] = map[string]interface{}{"multiscales": []metadata.Multiscale{ms}}
	}
	groupDoc := metadata.V3Group{
		ZarrFormat:           3,
		NodeType:             "group",
		ConsolidatedMetadata: nil,
		Attributes:           attrs,
	}
	if err := g.writeJSON(ctx, "zarr.json", groupDoc); err != nil {
		return err
	}

	for _, e := range g.allEntries() {
		names := dimNames(e.dims)
		var doc metadata.V3Array
		if _, sharded := e.writer.(*array.ShardWriter); sharded {
			doc = metadata.BuildV3ShardedArray(e.dims, appendExtent(e), names, e.codecP, e.codecInst != nil)
		} else {
			doc = metadata.BuildV3Array(e.dims, appendExtent(e), names)
		}
		if err := g.writeJSON(ctx, e.key+"/zarr.json", doc); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) buildMultiscale(version string) metadata.Multiscale {
	levelDims := make([]*dimension.ArrayDimensions, len(g.levels))
	for i, e := range g.levels {
		levelDims[i] = e.dims
	}
	return metadata.BuildMultiscale(version, g.base.dims, levelDims, g.method)
}

func dimNames(ad *dimension.ArrayDimensions) []string {
	n := ad.NDims()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ad.At(i).Name
	}
	return out
}

// appendExtent derives the append axis's current logical extent. A
// configured (non-zero) array_size_px wins outright; for a truly
// unbounded append axis, the extent is derived from frames_written.
func appendExtent(e *arrayEntry) uint64 {
	if configured := uint64(e.dims.At(0).ArraySizePx); configured != 0 {
		return configured
	}
	mult := appendFramesMultiplier(e.dims)
	if mult == 0 {
		return 0
	}
	return e.writer.FramesWritten() / mult
}

func appendFramesMultiplier(ad *dimension.ArrayDimensions) uint64 {
	n := ad.NDims()
	m := uint64(1)
	for i := 1; i < n-2; i++ {
		m *= uint64(ad.At(i).ArraySizePx)
	}
	return m
}

func (g *Group) writeJSON(ctx context.Context, relKey string, doc interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w: %w", relKey, err, zarrerr.ErrInternal)
	}
	s, err := g.metaSink(ctx, relKey)
	if err != nil {
		return err
	}
	if err := s.Write(ctx, 0, data); err != nil {
		return err
	}
	return s.Finalize(ctx)
}

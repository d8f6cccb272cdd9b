// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/zarrstream/internal/array"
	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/downsample"
)

// queueFloorBytes is the fixed 1 GiB baseline CORE §4.12 reserves for
// the frame intake queue and general overhead, independent of array shape.
const queueFloorBytes uint64 = 1 << 30

// EstimateMaxMemoryUsage computes the worst-case resident memory a
// stream built from cfg can reach: the 1 GiB queue floor, plus, for
// every array (the base array, every multiscale level it feeds, and
// every additional array), that array's partial-frame buffer and its
// fully-populated in-memory chunk lattice, doubled when the array is
// compressed (the codec needs the raw buffer alongside the compressed
// output) and, for the base array of a multiscale group, doubled again
// (the pyramid holds the raw frame while producing level frames from it).
func EstimateMaxMemoryUsage(cfg *config.StreamConfig) (uint64, error) {
	total := queueFloorBytes
	multiscale := cfg.Downsample.Enabled

	for i, a := range cfg.Arrays {
		dimsCfg, err := dimsFromConfig(a, cfg.Store.Version)
		if err != nil {
			return 0, err
		}
		ad, err := dimension.New(dimsCfg)
		if err != nil {
			return 0, err
		}
		compressed := a.Compression.Codec != "" && a.Compression.Codec != "none"
		isBase := i == 0
		total += perArrayEstimate(ad, compressed, isBase && multiscale)

		if isBase && multiscale {
			cur := dimsCfg
			for lvl := 0; lvl < cfg.Downsample.Levels; lvl++ {
				cur = downsample.LevelDims(cur)
				lad, err := dimension.New(cur)
				if err != nil {
					return 0, err
				}
				total += perArrayEstimate(lad, compressed, false)
			}
		}
	}
	return total, nil
}

// WarnIfEstimateExceedsSystemMemory logs a warning (never an error) when
// estimate is a large fraction of the host's total physical memory, so
// operators get a heads-up before a stream OOMs rather than after. The
// check is advisory only: gopsutil's read failing, or the host simply
// reporting unusual numbers, never blocks stream creation.
func WarnIfEstimateExceedsSystemMemory(estimate uint64, log *slog.Logger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debug("could not read system memory for estimate cross-check", "error", err)
		return
	}
	if estimate > vm.Total*3/4 {
		log.Warn("estimated max memory usage is close to or exceeds total system memory",
			"estimate_bytes", estimate, "system_total_bytes", vm.Total)
	}
}

func perArrayEstimate(ad *dimension.ArrayDimensions, compressed, multiscaleFactor bool) uint64 {
	frameBuffer := array.FrameSizeBytes(ad)
	bulk := ad.ChunksInMemory() * ad.BytesPerChunk()
	if compressed {
		bulk *= 2
	}
	if multiscaleFactor {
		bulk *= 2
	}
	return frameBuffer + bulk
}

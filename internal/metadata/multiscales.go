// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metadata

import (
	"math"
	"strconv"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
)

// Axis is one entry in an OME-NGFF multiscales `axes` list.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// CoordinateTransformation is a `scale` transform entry.
type CoordinateTransformation struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// Dataset is one level entry in `datasets`.
type Dataset struct {
	Path                    string                     `json:"path"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations"`
}

// Multiscale is one entry of the top-level `multiscales` array.
type Multiscale struct {
	Version  string    `json:"version"`
	Axes     []Axis    `json:"axes"`
	Datasets []Dataset `json:"datasets"`
	Metadata *MethodMetadata `json:"metadata,omitempty"`
}

// MethodMetadata names the reduction method used to produce the levels
// below the base resolution.
type MethodMetadata struct {
	Method string `json:"method"`
}

func axisKind(k dimension.Kind) string {
	switch k {
	case dimension.KindSpace:
		return "space"
	case dimension.KindChannel:
		return "channel"
	case dimension.KindTime:
		return "time"
	default:
		return ""
	}
}

// BuildMultiscale assembles the OME-NGFF multiscales entry for one
// group: baseDims names the axes (in storage order) and the base
// (level 0) array; levelDims holds the per-level ArrayDimensions for
// levels 1..L (levelDims[0] is level 1). version is "0.4" for v2 groups
// or "0.5" for v3 groups, per CORE §6.4.
func BuildMultiscale(version string, baseDims *dimension.ArrayDimensions, levelDims []*dimension.ArrayDimensions, method string) Multiscale {
	n := baseDims.NDims()
	axes := make([]Axis, n)
	for i := 0; i < n; i++ {
		d := baseDims.At(i)
		axes[i] = Axis{Name: d.Name, Type: axisKind(d.Kind), Unit: d.Unit}
	}

	ms := Multiscale{Version: version, Axes: axes}
	ms.Datasets = append(ms.Datasets, Dataset{
		Path:                    "0",
		CoordinateTransformations: []CoordinateTransformation{{Type: "scale", Scale: baseScales(baseDims)}},
	})

	for lvl, ld := range levelDims {
		scale := levelScale(baseDims, ld)
		ms.Datasets = append(ms.Datasets, Dataset{
			Path:                    strconv.Itoa(lvl + 1),
			CoordinateTransformations: []CoordinateTransformation{{Type: "scale", Scale: scale}},
		})
	}

	if len(levelDims) > 0 && method != "" {
		ms.Metadata = &MethodMetadata{Method: method}
	}
	return ms
}

func baseScales(d *dimension.ArrayDimensions) []float64 {
	n := d.NDims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := d.At(i).Scale
		if s == 0 {
			s = 1
		}
		out[i] = s
	}
	return out
}

// levelScale scales every spatial axis of the base resolution by the
// nearest power-of-two ratio of base extent to level extent, per CORE
// §4.11 ("scale vector whose spatial entries equal the base scale
// multiplied by the nearest power-of-two ratio of base-to-level extent").
func levelScale(base, level *dimension.ArrayDimensions) []float64 {
	n := base.NDims()
	out := baseScales(base)
	for i := 0; i < n; i++ {
		if base.At(i).Kind != dimension.KindSpace {
			continue
		}
		baseExtent := float64(base.At(i).ArraySizePx)
		levelExtent := float64(level.At(i).ArraySizePx)
		if levelExtent <= 0 {
			continue
		}
		ratio := baseExtent / levelExtent
		pow := math.Round(math.Log2(ratio))
		if pow < 0 {
			pow = 0
		}
		out[i] = out[i] * math.Pow(2, pow)
	}
	return out
}

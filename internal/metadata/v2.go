// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metadata builds the Zarr v2/v3 JSON documents (.zarray,
// .zgroup, .zattrs, zarr.json) and the OME-NGFF multiscales attributes
// that accompany them. JSON encoding itself is the standard library's;
// only the document shapes are ours (CORE §6.3/§6.4).
package metadata

// V2Array is the content of an array's .zarray document.
type V2Array struct {
	ZarrFormat         int           `json:"zarr_format"`
	Shape              []uint64      `json:"shape"`
	Chunks             []uint32      `json:"chunks"`
	Dtype              string        `json:"dtype"`
	FillValue          int           `json:"fill_value"`
	Order              string        `json:"order"`
	Filters            interface{}   `json:"filters"`
	DimensionSeparator string        `json:"dimension_separator"`
	Compressor         *V2Compressor `json:"compressor"`
}

// V2Compressor is the Blosc1 compressor descriptor embedded in .zarray.
type V2Compressor struct {
	ID      string `json:"id"`
	Cname   string `json:"cname"`
	Clevel  int    `json:"clevel"`
	Shuffle int    `json:"shuffle"`
}

// V2Group is the content of a group's .zgroup document.
type V2Group struct {
	ZarrFormat int `json:"zarr_format"`
}

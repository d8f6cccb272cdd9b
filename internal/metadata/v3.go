// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metadata

// V3ChunkGrid is the "regular" chunk_grid configuration.
type V3ChunkGrid struct {
	Name          string            `json:"name"`
	Configuration V3ChunkGridConfig `json:"configuration"`
}

type V3ChunkGridConfig struct {
	ChunkShape []uint32 `json:"chunk_shape"`
}

// V3ChunkKeyEncoding is always {name:"default", configuration:{separator:"/"}}.
type V3ChunkKeyEncoding struct {
	Name          string                   `json:"name"`
	Configuration V3ChunkKeyEncodingConfig `json:"configuration"`
}

type V3ChunkKeyEncodingConfig struct {
	Separator string `json:"separator"`
}

// V3Codec is a generic codec entry in a codecs[] or index_codecs[] list.
type V3Codec struct {
	Name          string      `json:"name"`
	Configuration interface{} `json:"configuration,omitempty"`
}

// V3ShardingConfig is the configuration of the sharding_indexed codec.
type V3ShardingConfig struct {
	ChunkShape    []uint32  `json:"chunk_shape"`
	Codecs        []V3Codec `json:"codecs"`
	IndexCodecs   []V3Codec `json:"index_codecs"`
	IndexLocation string    `json:"index_location"`
}

// V3BloscConfig is the configuration of a blosc codec entry.
type V3BloscConfig struct {
	Cname   string `json:"cname"`
	Clevel  int    `json:"clevel"`
	Shuffle string `json:"shuffle"`
}

// V3Array is the content of an array's zarr.json document.
type V3Array struct {
	ZarrFormat          int                `json:"zarr_format"`
	NodeType            string             `json:"node_type"`
	Shape               []uint64           `json:"shape"`
	DataType            string             `json:"data_type"`
	ChunkGrid           V3ChunkGrid        `json:"chunk_grid"`
	ChunkKeyEncoding    V3ChunkKeyEncoding `json:"chunk_key_encoding"`
	FillValue           int                `json:"fill_value"`
	Codecs              []V3Codec          `json:"codecs"`
	StorageTransformers []interface{}      `json:"storage_transformers"`
	DimensionNames      []string           `json:"dimension_names"`
}

// V3Group is the content of a group's zarr.json document.
type V3Group struct {
	ZarrFormat            int                    `json:"zarr_format"`
	NodeType              string                 `json:"node_type"`
	ConsolidatedMetadata  interface{}            `json:"consolidated_metadata"`
	Attributes            map[string]interface{} `json:"attributes"`
}

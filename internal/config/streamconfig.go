// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML documents that drive the
// streaming engine, in the same shape as the lineage's server/agent
// config packages: nested structs, human-readable byte sizes, and a
// validate() method that returns descriptive errors.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/zarrstream/internal/dimension"
	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// ParseDType maps a YAML dtype string onto a dimension.DType.
func ParseDType(s string) (dimension.DType, error) {
	switch strings.ToLower(s) {
	case "int8":
		return dimension.Int8, nil
	case "int16":
		return dimension.Int16, nil
	case "int32":
		return dimension.Int32, nil
	case "int64":
		return dimension.Int64, nil
	case "uint8":
		return dimension.Uint8, nil
	case "uint16":
		return dimension.Uint16, nil
	case "uint32":
		return dimension.Uint32, nil
	case "uint64":
		return dimension.Uint64, nil
	case "float32":
		return dimension.Float32, nil
	case "float64":
		return dimension.Float64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q: %w", s, zarrerr.ErrInvalidArgument)
	}
}

// DimensionConfig is one axis of a ZarrArray, as read from YAML.
type DimensionConfig struct {
	Name            string  `yaml:"name"`
	Kind            string  `yaml:"kind"` // space|channel|time|other
	ArraySizePx     uint32  `yaml:"array_size_px"`
	ChunkSizePx     uint32  `yaml:"chunk_size_px"`
	ShardSizeChunks uint32  `yaml:"shard_size_chunks"`
	Unit            string  `yaml:"unit"`
	Scale           float64 `yaml:"scale"`
}

// CompressionConfig configures the Blosc1-family codec.
type CompressionConfig struct {
	Codec   string `yaml:"codec"`   // none|blosc-lz4|blosc-zstd
	Level   int    `yaml:"level"`   // 0..9
	Shuffle string `yaml:"shuffle"` // none|byte|bit
}

// DownsampleConfig configures the multiscale pyramid.
type DownsampleConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Method            string `yaml:"method"` // decimate|mean|min|max
	Levels            int    `yaml:"levels"`
	Needs3DDownsample bool   `yaml:"needs_3d_downsample"`
}

// S3Config configures the object-store sink.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	MaxConnections  int    `yaml:"max_connections"`
	ThrottleBpsRaw  int64  `yaml:"-"`
	ThrottleBps     string `yaml:"throttle_bps"`
}

// ArrayConfig describes one array within a group.
type ArrayConfig struct {
	Key         string            `yaml:"key"`
	DType       string            `yaml:"dtype"`
	Dimensions  []DimensionConfig `yaml:"dimensions"`
	Compression CompressionConfig `yaml:"compression"`
}

// StoreConfig names the store root and its backend.
type StoreConfig struct {
	Version   int       `yaml:"version"` // 2 or 3
	Path      string    `yaml:"path"`    // filesystem root, or key prefix when S3 is set
	Overwrite bool      `yaml:"overwrite"`
	S3        *S3Config `yaml:"s3"`
}

// StreamConfig is the top-level document for one stream.
type StreamConfig struct {
	Store      StoreConfig      `yaml:"store"`
	Arrays     []ArrayConfig    `yaml:"arrays"`
	Downsample DownsampleConfig `yaml:"downsample"`
	Logging    LoggingInfo      `yaml:"logging"`
	Pool       PoolConfig       `yaml:"pool"`
	Queue      QueueConfig      `yaml:"queue"`
	Janitor    JanitorConfig    `yaml:"handle_janitor"`
	PostClose  PostCloseConfig  `yaml:"post_close"`
}

// LoggingInfo mirrors the lineage's LoggingInfo.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// PoolConfig sizes the thread pool (C1).
type PoolConfig struct {
	Workers    int `yaml:"workers"`     // 0 = hardware concurrency
	QueueDepth int `yaml:"queue_depth"` // 0 = workers*4
}

// QueueConfig sizes the frame intake queue (C7).
type QueueConfig struct {
	Capacity int `yaml:"capacity"` // 0 = auto, per CORE §4.7
}

// JanitorConfig configures the cron-scheduled handle-pool sweep.
type JanitorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Schedule       string `yaml:"schedule"`         // cron expression, default "@every 1m"
	IdleTTLSeconds int    `yaml:"idle_ttl_seconds"` // default 300
	HandleCapacity int    `yaml:"handle_capacity"`  // default 256
}

// PostCloseConfig configures the optional cold-tier gzip pass.
type PostCloseConfig struct {
	GzipChunks bool `yaml:"gzip_chunks"`
}

// LoadStreamConfig reads, unmarshals and validates a StreamConfig.
func LoadStreamConfig(path string) (*StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stream config: %w: %w", err, zarrerr.ErrIO)
	}
	var cfg StreamConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing stream config: %w: %w", err, zarrerr.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating stream config: %w", err)
	}
	return &cfg, nil
}

// Validate applies the coordinator's config-validation rules (CORE
// §4.12).
func (c *StreamConfig) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required: %w", zarrerr.ErrInvalidArgument)
	}
	if c.Store.Version != 2 && c.Store.Version != 3 {
		return fmt.Errorf("store.version must be 2 or 3, got %d: %w", c.Store.Version, zarrerr.ErrInvalidArgument)
	}
	if len(c.Arrays) == 0 {
		return fmt.Errorf("at least one array is required: %w", zarrerr.ErrInvalidArgument)
	}
	for _, a := range c.Arrays {
		if err := a.validate(c.Store.Version); err != nil {
			return err
		}
	}
	if c.Store.S3 != nil {
		if c.Store.S3.Endpoint == "" {
			return fmt.Errorf("store.s3.endpoint is required when s3 is configured: %w", zarrerr.ErrInvalidArgument)
		}
		if l := len(c.Store.S3.Bucket); l < 3 || l > 63 {
			return fmt.Errorf("store.s3.bucket length %d out of range [3,63]: %w", l, zarrerr.ErrInvalidArgument)
		}
		if c.Store.S3.ThrottleBps != "" {
			v, err := ParseByteSize(c.Store.S3.ThrottleBps)
			if err != nil {
				return fmt.Errorf("store.s3.throttle_bps: %w", err)
			}
			c.Store.S3.ThrottleBpsRaw = v
		}
	}

	if c.Downsample.Enabled {
		switch c.Downsample.Method {
		case "decimate", "mean", "min", "max":
		default:
			return fmt.Errorf("downsample.method must be one of decimate|mean|min|max, got %q: %w", c.Downsample.Method, zarrerr.ErrInvalidArgument)
		}
		if c.Downsample.Levels <= 0 {
			c.Downsample.Levels = 1
		}
		if dt, err := ParseDType(c.Arrays[0].DType); err == nil {
			switch dt {
			case dimension.Uint8, dimension.Uint16:
			default:
				return fmt.Errorf("downsample.enabled requires the base array dtype to be uint8 or uint16, got %q: %w", c.Arrays[0].DType, zarrerr.ErrNotYetImplemented)
			}
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "@every 1m"
	}
	if c.Janitor.IdleTTLSeconds <= 0 {
		c.Janitor.IdleTTLSeconds = 300
	}
	if c.Janitor.HandleCapacity <= 0 {
		c.Janitor.HandleCapacity = 256
	}

	return nil
}

func (a ArrayConfig) validate(version int) error {
	if len(a.Dimensions) < 3 {
		return fmt.Errorf("array %q: at least 3 dimensions required: %w", a.Key, zarrerr.ErrInvalidSettings)
	}
	n := len(a.Dimensions)
	spatial := 0
	for i, d := range a.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("array %q: dimension %d name is empty: %w", a.Key, i, zarrerr.ErrInvalidArgument)
		}
		switch strings.ToLower(d.Kind) {
		case "space", "channel", "time", "other":
		default:
			return fmt.Errorf("array %q: dimension %q has invalid kind %q: %w", a.Key, d.Name, d.Kind, zarrerr.ErrInvalidArgument)
		}
		if strings.ToLower(d.Kind) == "space" {
			spatial++
			if i < n-2 {
				return fmt.Errorf("array %q: spatial dimension %q must be one of the last two axes: %w", a.Key, d.Name, zarrerr.ErrInvalidSettings)
			}
		}
		if d.ChunkSizePx == 0 {
			return fmt.Errorf("array %q: dimension %q chunk_size_px must be > 0: %w", a.Key, d.Name, zarrerr.ErrInvalidArgument)
		}
		if d.ArraySizePx == 0 && i != 0 {
			return fmt.Errorf("array %q: dimension %q array_size_px == 0 only legal on first axis: %w", a.Key, d.Name, zarrerr.ErrInvalidSettings)
		}
		if version == 3 && d.ShardSizeChunks == 0 {
			return fmt.Errorf("array %q: dimension %q shard_size_chunks must be >= 1 on a v3 store: %w", a.Key, d.Name, zarrerr.ErrInvalidSettings)
		}
		if d.Scale < 0 {
			return fmt.Errorf("array %q: dimension %q scale must be non-negative: %w", a.Key, d.Name, zarrerr.ErrInvalidArgument)
		}
	}
	if spatial != 2 {
		return fmt.Errorf("array %q: exactly two spatial dimensions required, got %d: %w", a.Key, spatial, zarrerr.ErrInvalidSettings)
	}
	if _, err := ParseDType(a.DType); err != nil {
		return fmt.Errorf("array %q: %w", a.Key, err)
	}

	switch a.Compression.Codec {
	case "", "none", "blosc-lz4", "blosc-zstd":
	default:
		return fmt.Errorf("array %q: unknown compression codec %q: %w", a.Key, a.Compression.Codec, zarrerr.ErrInvalidArgument)
	}
	if a.Compression.Codec != "" && a.Compression.Codec != "none" {
		if a.Compression.Level < 0 || a.Compression.Level > 9 {
			return fmt.Errorf("array %q: compression level %d out of range [0,9]: %w", a.Key, a.Compression.Level, zarrerr.ErrInvalidArgument)
		}
	}
	switch a.Compression.Shuffle {
	case "", "none", "byte", "bit":
	default:
		return fmt.Errorf("array %q: unknown shuffle mode %q: %w", a.Key, a.Compression.Shuffle, zarrerr.ErrInvalidArgument)
	}

	return nil
}

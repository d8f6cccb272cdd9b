// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package s3sink implements the object-store Sink backend (CORE §4.4):
// single-PUT for small objects, multipart upload for large ones, and a
// bounded client connection pool. It wires the lineage's declared-but-
// unused aws-sdk-go-v2 dependency into the sink layer the CORE spec
// calls for.
package s3sink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Config describes one S3-compatible endpoint.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	MaxConnections  int
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is empty: %w", zarrerr.ErrInvalidArgument)
	}
	if l := len(c.Bucket); l < 3 || l > 63 {
		return fmt.Errorf("s3 bucket name length %d out of range [3,63]: %w", l, zarrerr.ErrInvalidArgument)
	}
	return nil
}

// ConnectionPool bounds the number of S3 clients checked out at once,
// analogous to sink.HandlePool but for network connections rather than
// file descriptors (CORE §4.4: "returns the caller to a wait if all are
// checked out").
type ConnectionPool struct {
	cfg   Config
	slots chan *s3.Client
}

// NewConnectionPool builds maxConnections S3 clients against cfg and
// probes the bucket once up front, failing fast on misconfiguration
// (CORE §4.12: "probe the bucket and a test connection; fail fast").
func NewConnectionPool(ctx context.Context, cfg Config) (*ConnectionPool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := cfg.MaxConnections
	if n <= 0 {
		n = 4
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(regionOrDefault(cfg.Region)),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w: %w", err, zarrerr.ErrIO)
	}

	p := &ConnectionPool{cfg: cfg, slots: make(chan *s3.Client, n)}
	for i := 0; i < n; i++ {
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
		p.slots <- client
	}

	client, err := p.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(client)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("probing bucket %q at %s: %w: %w", cfg.Bucket, cfg.Endpoint, err, zarrerr.ErrIO)
	}

	return p, nil
}

func regionOrDefault(r string) string {
	if r == "" {
		return "us-east-1"
	}
	return r
}

// Checkout blocks until a client is available.
func (p *ConnectionPool) Checkout(ctx context.Context) (*s3.Client, error) {
	select {
	case c := <-p.slots:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a client to the pool.
func (p *ConnectionPool) Release(c *s3.Client) {
	p.slots <- c
}

// Bucket returns the configured bucket name.
func (p *ConnectionPool) Bucket() string { return p.cfg.Bucket }

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package s3sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// multipartThreshold is the buffered size at which the sink switches
// from a single accumulator to a multipart upload (CORE §4.4: "typically
// 5 MiB").
const multipartThreshold = 5 << 20

// Sink is the object-store Sink backend. Writes accumulate in memory
// until multipartThreshold bytes are buffered; the accumulator then
// becomes part 1 of a multipart upload and subsequent full-threshold
// buffers become successive parts. Finalize uploads the final (possibly
// small) part and completes the upload, or issues a single PutObject if
// the object never crossed the threshold.
type Sink struct {
	pool *ConnectionPool
	key  string

	buf []byte

	uploadID string
	parts    []types.CompletedPart
	nextPart int32

	finalized bool
}

// New returns a Sink that will write to key in pool's configured bucket.
func New(pool *ConnectionPool, key string) *Sink {
	return &Sink{pool: pool, key: key, nextPart: 1}
}

// Write appends data to the internal accumulator, spilling to a
// multipart upload part whenever the accumulator reaches
// multipartThreshold bytes. offset must equal the number of bytes
// already written: object-store writes are always sequential appends
// keyed by upload part number, so any other offset is rejected here
// (unlike the filesystem sink, S3 has no positional-write primitive to
// honor it).
func (s *Sink) Write(ctx context.Context, offset int64, data []byte) error {
	if s.finalized {
		return fmt.Errorf("write to finalized s3 sink %s: %w", s.key, zarrerr.ErrInternal)
	}
	if offset != int64(len(s.buf))+s.uploadedBytes() {
		return fmt.Errorf("s3 sink %s requires sequential append, got offset %d: %w", s.key, offset, zarrerr.ErrInvalidArgument)
	}

	s.buf = append(s.buf, data...)
	for len(s.buf) >= multipartThreshold {
		part := s.buf[:multipartThreshold]
		if err := s.uploadPart(ctx, part); err != nil {
			return err
		}
		s.buf = append([]byte(nil), s.buf[multipartThreshold:]...)
	}
	return nil
}

func (s *Sink) uploadedBytes() int64 {
	var n int64
	for range s.parts {
		n += multipartThreshold
	}
	return n
}

func (s *Sink) ensureMultipart(ctx context.Context) error {
	if s.uploadID != "" {
		return nil
	}
	client, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(client)

	out, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.pool.Bucket()),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return fmt.Errorf("creating multipart upload for %s: %w: %w", s.key, err, zarrerr.ErrIO)
	}
	s.uploadID = aws.ToString(out.UploadId)
	return nil
}

func (s *Sink) uploadPart(ctx context.Context, part []byte) error {
	if err := s.ensureMultipart(ctx); err != nil {
		return err
	}
	client, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(client)

	partNum := s.nextPart
	s.nextPart++

	out, err := client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.pool.Bucket()),
		Key:        aws.String(s.key),
		UploadId:   aws.String(s.uploadID),
		PartNumber: aws.Int32(partNum),
		Body:       bytes.NewReader(part),
	})
	if err != nil {
		return fmt.Errorf("uploading part %d of %s: %w: %w", partNum, s.key, err, zarrerr.ErrIO)
	}
	s.parts = append(s.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)})
	return nil
}

// Finalize uploads any remaining buffered bytes and, if a multipart
// upload was started, completes it; otherwise it issues a single
// PutObject for objects that never crossed the threshold.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	client, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(client)

	if s.uploadID == "" {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.pool.Bucket()),
			Key:    aws.String(s.key),
			Body:   bytes.NewReader(s.buf),
		})
		if err != nil {
			return fmt.Errorf("putting object %s: %w: %w", s.key, err, zarrerr.ErrIO)
		}
		return nil
	}

	if len(s.buf) > 0 {
		if err := s.uploadPart(ctx, s.buf); err != nil {
			return err
		}
		s.buf = nil
	}

	_, err = client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.pool.Bucket()),
		Key:      aws.String(s.key),
		UploadId: aws.String(s.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: s.parts,
		},
	})
	if err != nil {
		return fmt.Errorf("completing multipart upload for %s: %w: %w", s.key, err, zarrerr.ErrIO)
	}
	return nil
}

// Delete removes the object at key. Used by stream-root overwrite.
func Delete(ctx context.Context, pool *ConnectionPool, key string) error {
	client, err := pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer pool.Release(client)

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(pool.Bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object %s: %w: %w", key, err, zarrerr.ErrIO)
	}
	return nil
}

// Exists checks for an object's presence via HeadObject.
func Exists(ctx context.Context, pool *ConnectionPool, key string) (bool, error) {
	client, err := pool.Checkout(ctx)
	if err != nil {
		return false, err
	}
	defer pool.Release(client)

	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(pool.Bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

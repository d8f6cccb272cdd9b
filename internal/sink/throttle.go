// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds a single throttled write's token reservation.
const maxBurstSize = 256 * 1024

// ThrottledSink wraps a Sink with a token-bucket rate limit on Write,
// for operators who want to cap egress bandwidth (an S3 sink during a
// backfill, typically). Adapted from the agent's ThrottledWriter.
type ThrottledSink struct {
	Sink
	limiter *rate.Limiter
}

// NewThrottledSink limits s's Write calls to bytesPerSec bytes/second.
// If bytesPerSec <= 0, s is returned unwrapped.
func NewThrottledSink(s Sink, bytesPerSec int64) Sink {
	if bytesPerSec <= 0 {
		return s
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &ThrottledSink{Sink: s, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// Write splits data into burst-sized pieces and waits for tokens before
// forwarding each piece to the wrapped Sink.
func (t *ThrottledSink) Write(ctx context.Context, offset int64, data []byte) error {
	pos := offset
	for len(data) > 0 {
		chunk := len(data)
		if chunk > t.limiter.Burst() {
			chunk = t.limiter.Burst()
		}
		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		if err := t.Sink.Write(ctx, pos, data[:chunk]); err != nil {
			return err
		}
		pos += int64(chunk)
		data = data[chunk:]
	}
	return nil
}

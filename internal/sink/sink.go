// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink implements the uniform append/seek-write Sink contract
// (CORE §4.2) plus the filesystem backend and its handle pool
// (CORE §4.3). The object-store backend lives in internal/s3sink.
package sink

import "context"

// Sink is an object identified by a path or (bucket, key), written to
// at caller-chosen offsets and released exactly once via Finalize.
//
// Write must tolerate non-monotonic offsets for random-seek
// destinations; the streaming pipeline itself only ever seeks forward.
// A Sink is invalid after Finalize; further Write calls are undefined.
type Sink interface {
	Write(ctx context.Context, offset int64, data []byte) error
	Finalize(ctx context.Context) error
}

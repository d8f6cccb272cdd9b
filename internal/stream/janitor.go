// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/zarrstream/internal/config"
	"github.com/nishisan-dev/zarrstream/internal/sink"
)

// startJanitor runs a cron-scheduled sweep of pool's idle file handles,
// per JanitorConfig. It returns nil if the janitor is disabled or pool
// is nil (an S3-backed store has no file handle pool to sweep).
func startJanitor(cfg config.JanitorConfig, pool *sink.HandlePool, log *slog.Logger) *cron.Cron {
	if !cfg.Enabled || pool == nil {
		return nil
	}

	ttl := time.Duration(cfg.IdleTTLSeconds) * time.Second
	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule, func() {
		if n := pool.EvictIdleOlderThan(ttl); n > 0 {
			log.Debug("handle janitor evicted idle handles", "count", n)
		}
	})
	if err != nil {
		log.Error("handle janitor: invalid schedule, janitor disabled", "schedule", cfg.Schedule, "error", err)
		return nil
	}
	c.Start()
	return c
}

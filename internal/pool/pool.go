// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pool implements the fixed-size worker pool that runs the
// engine's fallible flush jobs (compression, shard defragmentation,
// sink writes). Frame tile scatter does not run here: the array writers
// copy each frame into its chunks on the caller's goroutine. It mirrors the lineage's preference
// for lock-free atomics over channels-as-counters where a simple flag
// suffices, and its habit of surfacing the first failure rather than
// one per job.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// Job is a fallible unit of work submitted to the pool.
type Job func(ctx context.Context) error

// Pool is a fixed-size set of worker goroutines draining a job channel.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	log     *slog.Logger
	failure *zarrerr.FailureSlot

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	stopped atomic.Bool
}

// DefaultWorkerCount mirrors CORE §4.1's "default: hardware
// concurrency", preferring gopsutil's logical-core count (which accounts
// for container CPU quotas on Linux) over bare runtime.NumCPU.
func DefaultWorkerCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// New starts a pool with the given worker count (DefaultWorkerCount()
// when workers <= 0) and a queue depth of queueDepth (a reasonable
// default is applied when <= 0).
func New(workers, queueDepth int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	if queueDepth <= 0 {
		queueDepth = workers * 4
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		jobs:    make(chan Job, queueDepth),
		log:     log,
		failure: zarrerr.NewFailureSlot(),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.runJob(job); err != nil {
			p.failed.Add(1)
			p.failure.Set(err)
			p.log.Error("pool job failed", "worker", id, "error", err)
		}
		p.completed.Add(1)
	}
}

func (p *Pool) runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pool job: %v: %w", r, zarrerr.ErrInternal)
		}
	}()
	return job(context.Background())
}

// Push enqueues job without blocking. It returns false (rejected) if the
// pool has been stopped or the queue is momentarily full.
func (p *Pool) Push(job Job) bool {
	if p.stopped.Load() {
		return false
	}
	p.submitted.Add(1)
	select {
	case p.jobs <- job:
		return true
	default:
		p.submitted.Add(-1)
		return false
	}
}

// PushBlocking enqueues job, blocking until there is room or the pool
// has stopped (in which case it returns false).
func (p *Pool) PushBlocking(job Job) (ok bool) {
	if p.stopped.Load() {
		return false
	}
	p.submitted.Add(1)
	defer func() {
		// AwaitStop closed the queue while this send was blocked.
		if recover() != nil {
			p.submitted.Add(-1)
			ok = false
		}
	}()
	p.jobs <- job
	return true
}

// AwaitStop drains the queue then blocks until every worker has exited.
// After AwaitStop, Push and PushBlocking always return false.
func (p *Pool) AwaitStop() {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.jobs)
	}
	p.wg.Wait()
}

// Err returns the first job error recorded by any worker, or nil.
func (p *Pool) Err() error { return p.failure.Err() }

// Stats is a point-in-time, lock-free snapshot of pool activity.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a lock-free snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"container/list"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// handle wraps one open *os.File plus a reference count; it is evicted
// only when refs drops to zero and the pool needs the slot.
type handle struct {
	path      string
	f         *os.File
	refs      int
	elem      *list.Element // position in the LRU list; valid only while refs==0
	idleSince time.Time     // set when refs drops to zero
}

// HandlePool bounds the number of simultaneously open file descriptors,
// evicting unreferenced entries LRU-fashion once at capacity, and
// blocking callers until a slot frees when every handle is checked out.
// This is the filesystem sink's process-wide handle cache (CORE §4.3).
type HandlePool struct {
	mu       sync.Mutex
	cond     sync.Cond
	handles  map[string]*handle
	lru      *list.List // idle handles, oldest at Back()
	capacity int
}

// NewHandlePool creates a pool that keeps at most capacity handles open
// at once, checked-out and idle handles counted together.
func NewHandlePool(capacity int) *HandlePool {
	if capacity < 1 {
		capacity = 1
	}
	p := &HandlePool{
		handles:  make(map[string]*handle),
		lru:      list.New(),
		capacity: capacity,
	}
	p.cond.L = &p.mu
	return p
}

// Checkout returns a shared, open handle for path, opening it
// (O_RDWR|O_CREATE) if it is not already cached. The caller must call
// Release exactly once when done with the handle for this checkout.
func (p *HandlePool) Checkout(path string) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[path]; ok {
		if h.elem != nil {
			p.lru.Remove(h.elem)
			h.elem = nil
		}
		h.refs++
		return h.f, nil
	}

	for len(p.handles) >= p.capacity {
		if !p.evictOldestLocked() {
			p.cond.Wait()
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening sink file %s: %w: %w", path, err, zarrerr.ErrIO)
	}
	p.handles[path] = &handle{path: path, f: f, refs: 1}
	return f, nil
}

// Release decrements the checkout count for path; once it reaches zero
// the handle becomes eligible for LRU eviction but stays open until the
// pool needs the slot.
func (p *HandlePool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[path]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		h.refs = 0
		h.idleSince = time.Now()
		h.elem = p.lru.PushFront(h)
	}
	p.cond.Broadcast()
}

// EvictIdleOlderThan closes and removes every idle handle whose last
// Release happened at least ttl ago, used by a background janitor to
// cap descriptor count between bursts of activity rather than only at
// capacity. Returns the number of handles evicted.
func (p *HandlePool) EvictIdleOlderThan(ttl time.Duration) int {
	p.mu.Lock()
	cutoff := time.Now().Add(-ttl)
	var toClose []*os.File
	for e := p.lru.Back(); e != nil; {
		h := e.Value.(*handle)
		prev := e.Prev()
		if h.idleSince.After(cutoff) {
			break
		}
		p.lru.Remove(e)
		delete(p.handles, h.path)
		toClose = append(toClose, h.f)
		e = prev
	}
	p.mu.Unlock()

	p.cond.Broadcast()
	for _, f := range toClose {
		_ = f.Close()
	}
	return len(toClose)
}

// Close explicitly closes and evicts path regardless of LRU order; it
// is an error to call this while the handle is still checked out.
func (p *HandlePool) Close(path string) error {
	p.mu.Lock()
	h, ok := p.handles[path]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if h.refs > 0 {
		p.mu.Unlock()
		return fmt.Errorf("closing sink file %s while checked out: %w", path, zarrerr.ErrInternal)
	}
	if h.elem != nil {
		p.lru.Remove(h.elem)
	}
	delete(p.handles, path)
	p.mu.Unlock()

	p.cond.Broadcast()
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("closing sink file %s: %w: %w", path, err, zarrerr.ErrIO)
	}
	return nil
}

// evictOldestLocked closes and removes the least-recently-released idle
// handle. Must be called with p.mu held. Returns false if no idle
// handle is available to evict.
func (p *HandlePool) evictOldestLocked() bool {
	back := p.lru.Back()
	if back == nil {
		return false
	}
	h := back.Value.(*handle)
	p.lru.Remove(back)
	delete(p.handles, h.path)
	_ = h.f.Close()
	return true
}

// Len returns the number of handles currently cached (open or checked out).
func (p *HandlePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

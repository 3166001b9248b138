package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// ComputeFunc produces the result for a fingerprint on a cache miss.
type ComputeFunc func(ctx context.Context) (*types.ApproximationResult, error)

// ResultCache is a bounded LRU of completed computations keyed by
// fingerprint, with per-fingerprint single-flight: at most one ComputeFunc
// runs per key, and every concurrent caller for that key receives the one
// outcome. A fingerprint is always in exactly one state: absent, in flight,
// or holding a complete immutable result.
//
// The in-flight table is an explicit map of fingerprint to computation
// handle rather than a shared coalescing helper, so the cache can insert the
// result and release waiters under its own locking discipline.
type ResultCache struct {
	log      *logger.Logger
	capacity int

	mu       sync.Mutex
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	inflight map[string]*flight

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	fingerprint string
	result      *types.ApproximationResult
	createdAt   time.Time
	lastAccess  time.Time
}

// flight is one in-progress computation. done is closed when the owner
// finishes; result/err are immutable afterwards.
type flight struct {
	done   chan struct{}
	result *types.ApproximationResult
	err    error
}

func New(baseLog *logger.Logger, capacity int) *ResultCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ResultCache{
		log:      baseLog.With("component", "ResultCache"),
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		inflight: make(map[string]*flight),
	}
}

// GetOrCompute returns the cached result for fingerprint, or runs compute
// exactly once across all concurrent callers for that fingerprint. Failures
// are delivered to every waiter and leave no cache entry, so the next
// request retries. A waiter whose own context ends stops waiting; the
// computation itself keeps running for the remaining callers. When the
// shared failure was the owner's context expiring, a waiter that is still
// live takes over as the new owner instead of inheriting an interruption
// that was never its own.
func (c *ResultCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (*types.ApproximationResult, error) {
	var f *flight
	for {
		c.mu.Lock()
		if el, ok := c.items[fingerprint]; ok {
			ent := el.Value.(*entry)
			ent.lastAccess = time.Now()
			c.order.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			return ent.result, nil
		}
		inflight, ok := c.inflight[fingerprint]
		if !ok {
			f = &flight{done: make(chan struct{})}
			c.inflight[fingerprint] = f
			c.misses++
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		result, err := c.wait(ctx, inflight)
		if err != nil && interrupted(err) && ctx.Err() == nil {
			continue
		}
		return result, err
	}

	result, err := compute(ctx)

	c.mu.Lock()
	delete(c.inflight, fingerprint)
	if err == nil {
		c.insertLocked(fingerprint, result)
	}
	c.mu.Unlock()

	f.result = result
	f.err = err
	close(f.done)
	return result, err
}

// wait blocks until the in-flight computation finishes or the waiter's own
// context ends. The waiter's context error carries the same taxonomy kinds
// the engine checkpoints produce, so a job failing here still records an
// error kind.
func (c *ResultCache) wait(ctx context.Context, f *flight) (*types.ApproximationResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindComputationTimeout, ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindCancelled, ctx.Err())
	}
}

// interrupted reports whether an error chain bottoms out in a context
// error, i.e. the computation was cut short rather than failing on its own.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Peek reports whether a completed result is cached, without recency update.
func (c *ResultCache) Peek(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[fingerprint]
	return ok
}

func (c *ResultCache) insertLocked(fingerprint string, result *types.ApproximationResult) {
	now := time.Now()
	if el, ok := c.items[fingerprint]; ok {
		ent := el.Value.(*entry)
		ent.result = result
		ent.lastAccess = now
		c.order.MoveToFront(el)
		return
	}
	c.items[fingerprint] = c.order.PushFront(&entry{
		fingerprint: fingerprint,
		result:      result,
		createdAt:   now,
		lastAccess:  now,
	})
	for len(c.items) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		ent := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.items, ent.fingerprint)
		c.evictions++
		c.log.Debug("Result evicted", "fingerprint", ent.fingerprint)
	}
}

// Stats is a point-in-time snapshot for the status surface.
type Stats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	InFlight  int   `json:"in_flight"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.items),
		Capacity:  c.capacity,
		InFlight:  len(c.inflight),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

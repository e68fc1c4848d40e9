package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory constructs a fresh per-session memory handle. The Pool is
// handle-type-agnostic so the HTTP layer can pool Managers, or any other
// session-scoped value, behind the same TTL/LRU policy.
type Factory func() any

type poolEntry struct {
	id       string
	handle   any
	lastUsed time.Time
}

// Pool is an LRU- and TTL-bounded cache of session handles, mirroring the
// original alphora.memory.memory_pool.MemoryPool: capacity eviction pops the
// least-recently-used entry, and a background sweep additionally evicts
// anything idle past ttl.
type Pool struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	index    map[string]*list.Element

	stop chan struct{}
	now  func() time.Time
}

// NewPool constructs a Pool. capacity <= 0 means unbounded; ttl <= 0 means
// entries never expire by age. sweepInterval governs how often the
// background eviction sweep runs; <= 0 disables it.
func NewPool(capacity int, ttl, sweepInterval time.Duration) *Pool {
	p := &Pool{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	if sweepInterval > 0 {
		go p.sweepLoop(sweepInterval)
	}
	return p
}

// Close stops the background sweep goroutine, if any.
func (p *Pool) Close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// GetOrCreate returns the handle for sessionID, creating one via factory if
// absent. An empty sessionID generates a fresh UUID. Returns the resolved
// session id and its handle.
func (p *Pool) GetOrCreate(sessionID string, factory Factory) (string, any) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.index[sessionID]; ok {
		p.order.MoveToFront(el)
		entry := el.Value.(*poolEntry)
		entry.lastUsed = p.now()
		return sessionID, entry.handle
	}

	entry := &poolEntry{id: sessionID, handle: factory(), lastUsed: p.now()}
	el := p.order.PushFront(entry)
	p.index[sessionID] = el

	p.evictOverCapacityLocked()
	return sessionID, entry.handle
}

// evictOverCapacityLocked pops least-recently-used entries until the pool is
// back at or under capacity. Caller must hold p.mu.
func (p *Pool) evictOverCapacityLocked() {
	if p.capacity <= 0 {
		return
	}
	for p.order.Len() > p.capacity {
		back := p.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*poolEntry)
		p.order.Remove(back)
		delete(p.index, entry.id)
	}
}

// Evict removes a specific session from the pool, if present.
func (p *Pool) Evict(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.index[sessionID]; ok {
		p.order.Remove(el)
		delete(p.index, sessionID)
	}
}

func (p *Pool) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep evicts by TTL first, then (if still over capacity) by LRU.
func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ttl > 0 {
		cutoff := p.now().Add(-p.ttl)
		for el := p.order.Back(); el != nil; {
			prev := el.Prev()
			entry := el.Value.(*poolEntry)
			if entry.lastUsed.Before(cutoff) {
				p.order.Remove(el)
				delete(p.index, entry.id)
			}
			el = prev
		}
	}

	p.evictOverCapacityLocked()
}

// Len reports the current number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

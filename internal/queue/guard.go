// Package queue implements keyed admission control: at most Limit
// operations may hold any given key at once, and further operations that
// share a key wait for a slot or are turned away.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

var (
	// ErrTimeout is returned when a queued operation did not get a slot in time
	ErrTimeout = errors.New("request queue timeout")

	// ErrQueueFull is returned when too many operations already wait on a key
	ErrQueueFull = errors.New("request queue is full")
)

// Options tune one acquisition
type Options struct {
	// Limit is the number of concurrent holders allowed per key (default 1)
	Limit int

	// Hash maps a key to its slot identity. nil keeps keys verbatim.
	Hash func(string) string

	// Timeout bounds the wait for a slot. Zero waits until ctx is done.
	Timeout time.Duration

	// MaxWaiting rejects with ErrQueueFull instead of waiting once that many
	// operations already wait on one of the keys. Zero means unlimited.
	MaxWaiting int
}

type slot struct {
	holders int
	waiting int
}

// Stats counts operations, not keys: one operation holding three keys
// is one running operation
type Stats struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

// Guard tracks in-flight slots. The zero value is not usable; use NewGuard.
type Guard struct {
	mu      sync.Mutex
	slots   map[string]*slot
	stats   Stats
	changed chan struct{} // closed and replaced on every release
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{
		slots:   make(map[string]*slot),
		changed: make(chan struct{}),
	}
}

// Keys returns the slot identities currently held or waited on
func (g *Guard) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keysLocked()
}

func (g *Guard) keysLocked() []string {
	keys := make([]string, 0, len(g.slots))
	for k := range g.slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats returns the number of operations holding slots and waiting for them
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Holders returns how many operations currently hold key
func (g *Guard) Holders(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.slots[key]; ok {
		return s.holders
	}
	return 0
}

// Acquire blocks until every key has a free slot and then takes all of them
// at once. The returned release func must be called exactly once when the
// operation ends; extra calls are ignored.
func (g *Guard) Acquire(ctx context.Context, keys []string, opts Options) (func(), error) {
	return g.AcquireWith(ctx, func([]string) []string { return keys }, opts)
}

// AcquireWith is Acquire with the key set computed from the currently
// tracked keys, under the same lock that registers the new keys. This
// keeps "look at what is in flight" and "join the queue" atomic.
func (g *Guard) AcquireWith(ctx context.Context, build func(tracked []string) []string, opts Options) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	g.mu.Lock()
	ids := g.identities(build(g.keysLocked()), opts.Hash)

	if opts.MaxWaiting > 0 && !g.freeLocked(ids, opts.Limit) {
		for _, id := range ids {
			if s, ok := g.slots[id]; ok && s.waiting >= opts.MaxWaiting {
				g.mu.Unlock()
				return nil, ErrQueueFull
			}
		}
	}

	// Register as waiting so later submissions see these keys too
	for _, id := range ids {
		g.slotLocked(id).waiting++
	}
	g.stats.Waiting++

	for !g.freeLocked(ids, opts.Limit) {
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			g.mu.Lock()
			for _, id := range ids {
				g.slots[id].waiting--
				g.dropIfIdleLocked(id)
			}
			g.stats.Waiting--
			g.notifyLocked()
			g.mu.Unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}

		g.mu.Lock()
	}

	for _, id := range ids {
		s := g.slots[id]
		s.waiting--
		s.holders++
	}
	g.stats.Waiting--
	g.stats.Running++
	g.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { g.release(ids) }) }, nil
}

func (g *Guard) release(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.slots[id].holders--
		g.dropIfIdleLocked(id)
	}
	g.stats.Running--
	g.notifyLocked()
}

// identities hashes and dedups keys; duplicates would otherwise count
// against the limit twice
func (g *Guard) identities(keys []string, hash func(string) string) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if hash != nil {
			k = hash(k)
		}
		if !slices.Contains(ids, k) {
			ids = append(ids, k)
		}
	}
	return ids
}

func (g *Guard) freeLocked(ids []string, limit int) bool {
	for _, id := range ids {
		if s, ok := g.slots[id]; ok && s.holders >= limit {
			return false
		}
	}
	return true
}

func (g *Guard) slotLocked(id string) *slot {
	s, ok := g.slots[id]
	if !ok {
		s = &slot{}
		g.slots[id] = s
	}
	return s
}

func (g *Guard) dropIfIdleLocked(id string) {
	if s := g.slots[id]; s.holders == 0 && s.waiting == 0 {
		delete(g.slots, id)
	}
}

func (g *Guard) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

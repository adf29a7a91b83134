package auth

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// Default throttling policy; both values are configuration-exposed.
const (
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = 15 * time.Minute
)

// AttemptTracker counts failed login attempts per identifier inside a time
// window and gates login before any credential check runs. Implementations
// must be safe for concurrent use and must serialize read-modify-write for
// the same identifier.
type AttemptTracker interface {
	RecordFailure(ctx context.Context, id string) error
	RecordSuccess(ctx context.Context, id string) error
	Blocked(ctx context.Context, id string) (bool, error)
}

type attemptWindow struct {
	count int
	start time.Time
}

type trackerShard struct {
	mu      sync.Mutex
	entries map[string]attemptWindow
}

// MemoryTracker is a process-local AttemptTracker backed by a sharded map.
// Expired windows are not swept; they are treated as clean on next access,
// which bounds memory by the number of distinct identifiers seen.
type MemoryTracker struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	shards      [16]trackerShard
}

// MemoryTrackerOption configures a MemoryTracker.
type MemoryTrackerOption func(*MemoryTracker)

// WithTrackerClock overrides the time source (useful for tests).
func WithTrackerClock(fn func() time.Time) MemoryTrackerOption {
	return func(t *MemoryTracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewMemoryTracker builds a tracker blocking after maxAttempts failures
// within window. Non-positive arguments fall back to the defaults.
func NewMemoryTracker(maxAttempts int, window time.Duration, opts ...MemoryTrackerOption) *MemoryTracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	t := &MemoryTracker{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]attemptWindow)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTracker) shard(id string) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &t.shards[h.Sum32()%uint32(len(t.shards))]
}

// RecordFailure starts a fresh window on the first failure (or after the
// previous window elapsed) and increments the count otherwise.
func (t *MemoryTracker) RecordFailure(_ context.Context, id string) error {
	id = normalizeIdentifier(id)
	s := t.shard(id)
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.entries[id]
	if !ok || now.Sub(w.start) >= t.window {
		s.entries[id] = attemptWindow{count: 1, start: now}
		return nil
	}
	w.count++
	s.entries[id] = w
	return nil
}

// RecordSuccess clears the identifier's window unconditionally.
func (t *MemoryTracker) RecordSuccess(_ context.Context, id string) error {
	id = normalizeIdentifier(id)
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Blocked reports whether the identifier has reached the attempt limit
// inside the current window. An elapsed window is removed lazily here.
func (t *MemoryTracker) Blocked(_ context.Context, id string) (bool, error) {
	id = normalizeIdentifier(id)
	s := t.shard(id)
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	if now.Sub(w.start) >= t.window {
		delete(s.entries, id)
		return false, nil
	}
	return w.count >= t.maxAttempts, nil
}

func normalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

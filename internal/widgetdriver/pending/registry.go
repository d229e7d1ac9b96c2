// Package pending implements a bounded, time-expiring registry of in-flight
// widget requests (spec.md §3.4, §4.3).
//
// The registry is single-owner and not safe for concurrent use from multiple
// goroutines — spec.md §5 notes the machine state (of which the registry is
// part) is owned solely by the orchestrator, which is itself single-threaded
// between await points.
package pending

import "time"

// DefaultMaxPending is the default bound on the number of simultaneously
// tracked requests (spec.md §6.6).
const DefaultMaxPending = 128

// DefaultTimeout is the default time-to-live for a pending entry
// (spec.md §6.6).
const DefaultTimeout = 30 * time.Second

// TooManyPending is returned by Insert when the registry is at capacity.
type TooManyPending struct {
	Max int
}

func (e *TooManyPending) Error() string {
	return "pending registry: at capacity"
}

// Clock supplies the current time. Production code uses time.Now; tests
// inject a fake clock so expiry can be exercised deterministically
// (spec.md §9, "Registry timing").
type Clock func() time.Time

// OnExpired is invoked once per swept entry whose deadline has passed. It is
// a plain function reference; avoid closing over shared mutable state
// (spec.md §9).
type OnExpired func(id string, payload any)

type entry struct {
	payload   any
	expiresAt time.Time
}

// Registry is a bounded, expiring map of request ID -> payload.
//
// order tracks insertion order so ExtractOldest can answer "the earliest
// pending request matching a predicate" deterministically (spec.md §4.4.2),
// since Go map iteration order is not itself meaningful.
type Registry struct {
	maxPending int
	timeout    time.Duration
	clock      Clock
	onExpired  OnExpired
	entries    map[string]entry
	order      []string
}

// Config controls Registry construction.
type Config struct {
	// MaxPending bounds the number of simultaneously tracked entries.
	// Zero or negative uses DefaultMaxPending.
	MaxPending int
	// Timeout is the time-to-live for a pending entry. Zero or negative
	// uses DefaultTimeout.
	Timeout time.Duration
	// Clock supplies the current time; nil uses time.Now.
	Clock Clock
	// OnExpired is invoked for each entry swept as expired; may be nil.
	OnExpired OnExpired
}

// New creates a Registry from cfg, applying defaults for zero fields.
func New(cfg Config) *Registry {
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Registry{
		maxPending: maxPending,
		timeout:    timeout,
		clock:      clock,
		onExpired:  cfg.OnExpired,
		entries:    make(map[string]entry),
	}
}

// Count returns the number of currently tracked entries, including any that
// have expired but have not yet been swept.
func (r *Registry) Count() int {
	return len(r.entries)
}

// Insert records a new pending entry. It returns *TooManyPending if the
// registry is already at capacity (spec.md §4.3); it does not sweep expired
// entries first, so callers that rely on expiry to free capacity should call
// RemoveExpired before Insert.
func (r *Registry) Insert(id string, payload any) error {
	if len(r.entries) >= r.maxPending {
		return &TooManyPending{Max: r.maxPending}
	}
	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = entry{payload: payload, expiresAt: r.clock().Add(r.timeout)}
	return nil
}

// Contains reports whether id has a non-expired entry, evicting it first if
// its deadline has passed (spec.md §4.3).
func (r *Registry) Contains(id string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if r.expired(e) {
		r.evict(id, e)
		return false
	}
	return true
}

// Extract sweeps expired entries (invoking OnExpired for each), then removes
// and returns id's payload if it is still present and not expired
// (spec.md §4.3).
func (r *Registry) Extract(id string) (any, bool) {
	r.RemoveExpired()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	r.removeFromOrder(id)
	return e.payload, true
}

// ExtractOldest removes and returns the payload of the earliest-inserted
// non-expired entry whose ID satisfies match, sweeping expired entries first
// (spec.md §4.4.2: "the earliest such ID is extracted"). Go map iteration
// order is not insertion order, so this walks the explicit order slice
// instead of ranging over the map.
func (r *Registry) ExtractOldest(match func(id string) bool) (id string, payload any, ok bool) {
	r.RemoveExpired()

	for _, candidate := range r.order {
		e, present := r.entries[candidate]
		if !present {
			continue
		}
		if match != nil && !match(candidate) {
			continue
		}
		delete(r.entries, candidate)
		r.removeFromOrder(candidate)
		return candidate, e.payload, true
	}
	return "", nil, false
}

// RemoveExpired sweeps all expired entries, invoking OnExpired for each, and
// returns the count removed.
func (r *Registry) RemoveExpired() int {
	now := r.clock()
	var removed int
	for id, e := range r.entries {
		if e.expiresAt.Before(now) || e.expiresAt.Equal(now) {
			delete(r.entries, id)
			r.removeFromOrder(id)
			if r.onExpired != nil {
				r.onExpired(id, e.payload)
			}
			removed++
		}
	}
	return removed
}

// Clear drops all entries without invoking OnExpired.
func (r *Registry) Clear() {
	r.entries = make(map[string]entry)
	r.order = nil
}

func (r *Registry) expired(e entry) bool {
	now := r.clock()
	return e.expiresAt.Before(now) || e.expiresAt.Equal(now)
}

func (r *Registry) evict(id string, e entry) {
	delete(r.entries, id)
	r.removeFromOrder(id)
	if r.onExpired != nil {
		r.onExpired(id, e.payload)
	}
}

func (r *Registry) removeFromOrder(id string) {
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

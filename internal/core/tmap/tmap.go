// Package tmap implements a time-bounded associative container.
//
// Entries expire TTL after their last Set. Expiry is lazy: Get hides and evicts
// an expired entry, and Sweep evicts all expired entries. Nothing runs in the
// background; the owner decides when to Sweep.
package tmap

import (
	"sync"
	"time"
)

// Options configures a Map.
type Options[K comparable, V any] struct {
	TTL      time.Duration    // 0 = entries never expire
	Capacity int              // initial size hint
	OnEvict  func(key K, v V) // called for entries removed by expiry, not by Delete
	Now      func() time.Time // clock, defaults to time.Now
}

type entry[V any] struct {
	value   V
	updated time.Time
}

// Map is a TTL map safe for concurrent use.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	ttl     time.Duration
	onEvict func(K, V)
	now     func() time.Time
}

// New creates an empty map.
func New[K comparable, V any](opts Options[K, V]) *Map[K, V] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &Map[K, V]{
		entries: make(map[K]*entry[V], opts.Capacity),
		ttl:     opts.TTL,
		onEvict: opts.OnEvict,
		now:     opts.Now,
	}
}

// Get returns the live value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	if m.expired(e, m.now()) {
		delete(m.entries, key)
		m.mu.Unlock()
		m.evicted(key, e.value)
		var zero V
		return zero, false
	}
	v := e.value
	m.mu.Unlock()
	return v, true
}

// Set stores value under key and refreshes its timestamp.
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &entry[V]{value: value, updated: m.now()}
}

// Delete removes key without calling OnEvict.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len counts stored entries, including expired ones not yet swept.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Foreach calls fn for every live entry with its last update time.
// fn must not call back into the map.
func (m *Map[K, V]) Foreach(fn func(key K, value V, updated time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if m.expired(e, now) {
			continue
		}
		fn(k, e.value, e.updated)
	}
}

// Sweep evicts every expired entry and returns how many were removed.
func (m *Map[K, V]) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}

	type victim struct {
		key   K
		value V
	}
	var victims []victim

	m.mu.Lock()
	now := m.now()
	for k, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, k)
			victims = append(victims, victim{k, e.value})
		}
	}
	m.mu.Unlock()

	// callbacks run unlocked so they may use the map
	for _, v := range victims {
		m.evicted(v.key, v.value)
	}
	return len(victims)
}

func (m *Map[K, V]) expired(e *entry[V], now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.updated) >= m.ttl
}

func (m *Map[K, V]) evicted(key K, value V) {
	if m.onEvict != nil {
		m.onEvict(key, value)
	}
}

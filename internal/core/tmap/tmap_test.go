package tmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSetGetDelete(t *testing.T) {
	m := New(Options[string, int]{})

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Set("a", 2)
	v, _ = m.Get("a")
	assert.Equal(t, 2, v, "Set must overwrite")

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestExpiryOnGet(t *testing.T) {
	clock := newClock()
	var evicted []string
	m := New(Options[string, int]{
		TTL:     time.Second,
		Now:     clock.Now,
		OnEvict: func(k string, _ int) { evicted = append(evicted, k) },
	})

	m.Set("a", 1)
	clock.Advance(999 * time.Millisecond)
	_, ok := m.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 0, m.Len())
}

func TestSetRefreshesTTL(t *testing.T) {
	clock := newClock()
	m := New(Options[string, int]{TTL: time.Second, Now: clock.Now})

	m.Set("a", 1)
	clock.Advance(800 * time.Millisecond)
	m.Set("a", 1)
	clock.Advance(800 * time.Millisecond)

	_, ok := m.Get("a")
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	clock := newClock()
	evicted := map[string]int{}
	m := New(Options[string, int]{
		TTL:     time.Minute,
		Now:     clock.Now,
		OnEvict: func(k string, v int) { evicted[k] = v },
	})

	m.Set("old", 1)
	clock.Advance(30 * time.Second)
	m.Set("new", 2)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, map[string]int{"old": 1}, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestDeleteSkipsOnEvict(t *testing.T) {
	called := false
	m := New(Options[int, int]{TTL: time.Minute, OnEvict: func(int, int) { called = true }})
	m.Set(1, 1)
	m.Delete(1)
	assert.False(t, called)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	clock := newClock()
	m := New(Options[uint16, string]{Now: clock.Now})
	m.Set(53, "dns")
	clock.Advance(24 * 365 * time.Hour)

	assert.Equal(t, 0, m.Sweep())
	v, ok := m.Get(53)
	assert.True(t, ok)
	assert.Equal(t, "dns", v)
}

func TestForeachSkipsExpired(t *testing.T) {
	clock := newClock()
	m := New(Options[string, int]{TTL: time.Second, Now: clock.Now})
	start := clock.Now()

	m.Set("a", 1)
	clock.Advance(2 * time.Second)
	m.Set("b", 2)

	seen := map[string]time.Time{}
	m.Foreach(func(k string, _ int, updated time.Time) { seen[k] = updated })

	assert.Len(t, seen, 1)
	assert.Equal(t, start.Add(2*time.Second), seen["b"])
}

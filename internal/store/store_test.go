package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	_, ok := s.Get("a", "k")
	assert.False(t, ok)

	assert.True(t, s.Set("a", "k", 1))
	v, ok := s.Get("a", "k")
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "values are normalized")

	assert.Equal(t, map[string]any{"k": 1.0}, s.Snapshot("a"))
	assert.Empty(t, s.Snapshot("b"))

	s.Delete("a")
	_, ok = s.Get("a", "k")
	assert.False(t, ok)
}

func TestDeepEqualWritesAreSuppressed(t *testing.T) {
	s := New()
	calls := 0
	s.Subscribe("a", "user", nil, func(Change) { calls++ })

	assert.True(t, s.Set("a", "user", map[string]any{"name": "Sam", "tags": []string{"x"}}))
	assert.False(t, s.Set("a", "user", map[string]any{"name": "Sam", "tags": []any{"x"}}))
	assert.Equal(t, 1, calls)

	s.SetForce("a", "user", map[string]any{"name": "Sam", "tags": []any{"x"}})
	assert.Equal(t, 2, calls)

	assert.True(t, s.Set("a", "user", nil))
	assert.Equal(t, 3, calls)
}

func TestWildcardAndOrder(t *testing.T) {
	s := New()
	var log []string
	s.Subscribe("a", Wildcard, nil, func(c Change) { log = append(log, "wild:"+c.Key) })
	s.Subscribe("a", "x", nil, func(c Change) { log = append(log, "x") })
	s.Subscribe("b", Wildcard, nil, func(c Change) { log = append(log, "other") })

	s.Set("a", "x", 1)
	s.Set("a", "y", 1)
	assert.Equal(t, []string{"wild:x", "x", "wild:y"}, log)
}

func TestChangeCarriesOldValue(t *testing.T) {
	s := New()
	var got Change
	s.Subscribe("a", "n", nil, func(c Change) { got = c })

	s.Set("a", "n", 1)
	s.Set("a", "n", 2)
	assert.Equal(t, Change{ID: "a", Key: "n", Value: 2.0, Old: 1.0}, got)
}

func TestListenersMayWrite(t *testing.T) {
	s := New()
	s.Subscribe("a", "in", nil, func(c Change) {
		s.Set("a", "out", c.Value)
	})
	var out any
	s.Subscribe("a", "out", nil, func(c Change) { out = c.Value })

	s.Set("a", "in", "v")
	assert.Equal(t, "v", out)
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	calls := 0
	sub := s.Subscribe("a", "k", nil, func(Change) { calls++ })
	assert.True(t, sub.Active())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.False(t, sub.Active())

	s.Set("a", "k", 1)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, s.Len())
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	s := New()
	var second *Subscription
	calls := 0
	s.Subscribe("a", "k", nil, func(Change) { second.Unsubscribe() })
	second = s.Subscribe("a", "k", nil, func(Change) { calls++ })

	s.Set("a", "k", 1)
	assert.Equal(t, 0, calls)
}

func TestDetachAndAttach(t *testing.T) {
	s := New()
	calls := 0
	s.Subscribe("child", "clicked", "parent", func(Change) { calls++ })
	s.Subscribe("child", Wildcard, "child", func(Change) {})

	captured := s.Detach("child")
	require.Len(t, captured, 2)
	assert.Equal(t, 0, s.Len())

	s.Set("child", "clicked", true)
	assert.Equal(t, 0, calls)

	s.Attach(captured[0])
	s.Attach(captured[0])
	assert.Equal(t, 1, s.Len())
	s.Set("child", "clicked", false)
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeOwner(t *testing.T) {
	s := New()
	owner := &struct{ name string }{"a"}
	s.Subscribe("x", "k", owner, func(Change) {})
	s.Subscribe("y", Wildcard, owner, func(Change) {})
	keep := s.Subscribe("y", "k", nil, func(Change) {})

	assert.Equal(t, 2, s.UnsubscribeOwner(owner))
	assert.Equal(t, []*Subscription{keep}, s.Subscriptions("y"))
}

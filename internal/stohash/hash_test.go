package stohash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketsForRoundsUpToPowerOfTwo(t *testing.T) {
	require.Equal(t, uint32(2), bucketsFor(1))
	require.Equal(t, uint32(4), bucketsFor(3))
	require.Equal(t, uint32(16), bucketsFor(10))
}

func TestLookupRoundTrip(t *testing.T) {
	tb := New(16)
	e := tb.Add([]byte("hello"))

	found := tb.Lookup([]byte("hello"))
	require.Same(t, e, found)

	tb.Remove(e)
	require.Nil(t, tb.Lookup([]byte("hello")))
}

func TestLookupMissingKey(t *testing.T) {
	tb := New(16)
	tb.Add([]byte("a"))
	require.Nil(t, tb.Lookup([]byte("b")))
}

func TestEmptyAfterAllRemoved(t *testing.T) {
	tb := New(16)
	a := tb.Add([]byte("a"))
	b := tb.Add([]byte("b"))
	require.False(t, tb.Empty())

	tb.Remove(a)
	require.False(t, tb.Empty())
	tb.Remove(b)
	require.True(t, tb.Empty())
}

func TestIterateYieldsEveryElementOnce(t *testing.T) {
	tb := New(16)
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		tb.Add([]byte(k))
	}

	seen := map[string]int{}
	tb.Iterate(func(e *Elem) bool {
		seen[string(e.key)]++
		return true
	})

	require.Len(t, seen, len(keys))
	for _, k := range keys {
		require.Equal(t, 1, seen[k])
	}
}

func TestCollisionsWalkWholeBucket(t *testing.T) {
	tb := New(0) // forces a single bucket, every key collides
	e1 := tb.Add([]byte("x"))
	e2 := tb.Add([]byte("y"))
	require.NotSame(t, e1, e2)

	require.Same(t, e2, tb.Lookup([]byte("y")))
	tb.Remove(e2)
	require.Same(t, e1, tb.Lookup([]byte("x")))
}

package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetPut(t *testing.T) {
	c := NewCache(2)
	c.Put("helo wrld", "hello world")

	got, ok := c.Get("helo wrld")
	require.True(t, ok)
	assert.Equal(t, "hello world", got)
}

func TestCacheRejectsHallucination(t *testing.T) {
	c := NewCache(2)
	c.Put("hi", "hi there, this looks like a completely fabricated and overly long correction")

	_, ok := c.Get("hi")
	assert.False(t, ok)
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewCache(2)
	c.Put("a", "aa")
	c.Put("b", "bb")
	c.Put("c", "cc")

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

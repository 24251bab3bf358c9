package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerUpdateTracksLatestAndLongest(t *testing.T) {
	tr := New()
	tr.Update("hello")
	tr.Update("hello there")
	tr.Update("hi")

	snap := tr.Snapshot()
	assert.Equal(t, "hi", snap.Latest.Text)
	assert.Equal(t, "hello there", snap.Longest.Text)
}

func TestTrackerUpdateIgnoresEmpty(t *testing.T) {
	tr := New()
	tr.Update("hello")
	tr.Update("")

	snap := tr.Snapshot()
	assert.Equal(t, "hello", snap.Latest.Text)
}

func TestTrackerReset(t *testing.T) {
	tr := New()
	tr.Update("hello there")
	tr.Reset()

	snap := tr.Snapshot()
	assert.Empty(t, snap.Latest.Text)
	assert.Empty(t, snap.Longest.Text)
}

func TestCheckLongestExtends(t *testing.T) {
	tr := New()
	tr.Update("the weather is")
	tr.Update("the weather is nice today")

	ext, ok := tr.CheckLongestExtends("the weather is", 10000)
	require.True(t, ok)
	assert.Equal(t, "the weather is nice today", ext.ExtendedText)
	assert.Equal(t, []string{"nice", "today"}, ext.MissingWords)
}

func TestCheckLongestExtendsRejectsStale(t *testing.T) {
	tr := &Tracker{}
	tr.longest = Partial{Text: "the weather is nice", ReceivedAt: time.Now().Add(-20 * time.Second)}

	_, ok := tr.CheckLongestExtends("the weather is", 10000)
	assert.False(t, ok)
}

func TestCheckLongestExtendsRejectsNonPrefix(t *testing.T) {
	tr := New()
	tr.Update("completely different sentence")

	_, ok := tr.CheckLongestExtends("the weather is", 10000)
	assert.False(t, ok)
}

func TestMergeWithOverlapIdentical(t *testing.T) {
	merged, ok := MergeWithOverlap("hello world", "hello world")
	require.True(t, ok)
	assert.Equal(t, "hello world", merged)
}

func TestMergeWithOverlapPrefix(t *testing.T) {
	merged, ok := MergeWithOverlap("hello", "hello world")
	require.True(t, ok)
	assert.Equal(t, "hello world", merged)
}

func TestMergeWithOverlapJoinsOnBoundary(t *testing.T) {
	merged, ok := MergeWithOverlap("the quick brown fox", "brown fox jumps")
	require.True(t, ok)
	assert.Equal(t, "the quick brown fox jumps", merged)
}

func TestMergeWithOverlapNoOverlap(t *testing.T) {
	_, ok := MergeWithOverlap("the quick brown fox", "completely unrelated text")
	assert.False(t, ok)
}

func TestOverlap(t *testing.T) {
	a := []string{"the", "quick", "brown", "fox"}
	b := []string{"brown", "fox", "jumps"}
	assert.Equal(t, 2, Overlap(a, b))
}

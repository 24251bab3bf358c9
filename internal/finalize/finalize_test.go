package finalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-caption-translator/internal/tracker"
)

func TestEndsWithCompleteSentence(t *testing.T) {
	assert.True(t, EndsWithCompleteSentence("This is a sentence."))
	assert.True(t, EndsWithCompleteSentence("Really?!"))
	assert.True(t, EndsWithCompleteSentence(`She said "hello."`))
	assert.False(t, EndsWithCompleteSentence("this is not finished"))
}

func TestIsFalseFinal(t *testing.T) {
	assert.True(t, IsFalseFinal("I've."))
	assert.True(t, IsFalseFinal("We're."))
	assert.False(t, IsFalseFinal("The weather is nice today."))
	assert.False(t, IsFalseFinal("I've been working on this project for a very long time."))
}

func TestComputeInitialWaitCompleteSentence(t *testing.T) {
	wait := ComputeInitialWait("This is done.")
	assert.Equal(t, BaseWaitMs*time.Millisecond, wait)
}

func TestComputeInitialWaitScalesWithLength(t *testing.T) {
	short := ComputeInitialWait("hi there")
	long := ComputeInitialWait(string(make([]byte, LongFinalChars+50)))

	assert.Equal(t, LongFinalWaitMs*time.Millisecond, long)
	assert.Less(t, short, long)
	assert.GreaterOrEqual(t, short, BaseWaitMs*time.Millisecond)
}

func TestEngineCreateAndResolve(t *testing.T) {
	e := New()
	tr := tracker.New()
	tr.Update("the weather is nice today")

	fired := make(chan struct{}, 1)
	e.Create("the weather is", nil, func() { fired <- struct{}{} })

	assert.True(t, e.HasPending())

	resolved, ok := e.ResolveAndCommit(tr)
	require.True(t, ok)
	assert.Equal(t, "the weather is nice today", resolved)
	assert.False(t, e.HasPending())
}

func TestEngineResolveWithNoPending(t *testing.T) {
	e := New()
	_, ok := e.ResolveAndCommit(tracker.New())
	assert.False(t, ok)
}

func TestShouldCommitOnPartialGraceWindow(t *testing.T) {
	e := New()
	e.Create("hello", nil, func() {})

	assert.False(t, e.ShouldCommitOnPartial(false, time.Now()))
	assert.False(t, e.ShouldCommitOnPartial(true, time.Now().Add(time.Second)))
	assert.True(t, e.ShouldCommitOnPartial(false, time.Now().Add(NewSegmentGraceMs*time.Millisecond+time.Millisecond)))
}

func TestExtendDeadlineCapsAtMaxWait(t *testing.T) {
	e := New()
	e.Create("partial", nil, func() {})

	e.ExtendDeadline(10*time.Second, func() {})

	pending, ok := e.Snapshot()
	require.True(t, ok)
	assert.WithinDuration(t, pending.CreatedAt.Add(MaxFinalizationWaitMs*time.Millisecond), pending.MaxWaitDeadline, 50*time.Millisecond)
}

func TestClear(t *testing.T) {
	e := New()
	e.Create("hello", nil, func() {})
	e.Clear()
	assert.False(t, e.HasPending())
}

package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingEnforcesMinimumRetention(t *testing.T) {
	r := NewRing(time.Second)
	assert.Equal(t, 2500*time.Millisecond, r.retention)
}

func TestWriteAndGetRecentBytes(t *testing.T) {
	r := NewRing(3 * time.Second)
	samples := []int16{1, 2, 3, 4}
	r.Write(samples)

	data := r.GetRecentBytes(5000)
	got := BytesToInt16(data)
	assert.Equal(t, samples, got)
}

func TestPruneDropsOldFrames(t *testing.T) {
	r := NewRing(2500 * time.Millisecond)
	r.mu.Lock()
	r.frames = append(r.frames, frame{samples: []int16{9, 9}, at: time.Now().Add(-10 * time.Second)})
	r.mu.Unlock()

	r.Write([]int16{1, 2})

	data := r.GetRecentBytes(20000)
	got := BytesToInt16(data)
	assert.Equal(t, []int16{1, 2}, got)
}

func TestGetWindowAroundCapturesAsymmetricWindow(t *testing.T) {
	r := NewRing(3 * time.Second)
	now := time.Now()

	r.mu.Lock()
	r.frames = []frame{
		{samples: []int16{1}, at: now.Add(-1200 * time.Millisecond)},
		{samples: []int16{2}, at: now.Add(-200 * time.Millisecond)},
		{samples: []int16{3}, at: now.Add(400 * time.Millisecond)},
		{samples: []int16{4}, at: now.Add(2 * time.Second)},
	}
	r.mu.Unlock()

	data := r.GetWindowAround(now, 1400, 800)
	got := BytesToInt16(data)
	assert.Equal(t, []int16{1, 2, 3}, got)
}

func TestClear(t *testing.T) {
	r := NewRing(3 * time.Second)
	r.Write([]int16{1, 2, 3})
	r.Clear()

	data := r.GetRecentBytes(5000)
	require.Empty(t, data)
}

func TestBytesToInt16RoundTrip(t *testing.T) {
	samples := []int16{-32768, 0, 32767, 1234}
	data := int16ToBytes(samples)
	assert.Equal(t, samples, BytesToInt16(data))
}

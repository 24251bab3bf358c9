// Package audio implements the bounded PCM frame FIFO that sits between
// the ASR stream adapter and the recovery recognizer. It is the only
// component that retains raw audio; everything downstream works with
// text. Adapted from the teacher's sample-indexed ring buffer, generalized
// to retain wall-clock timestamps per frame so a recovery pass can pull a
// window centered on an arbitrary instant rather than just "the last N
// samples".
package audio

import (
	"encoding/binary"
	"sync"
	"time"
)

// frame is one write's worth of PCM16 samples stamped with the wall-clock
// time it was received.
type frame struct {
	samples []int16
	at      time.Time
}

// Ring is a bounded FIFO of PCM frames retaining at least Retention of
// audio. The host connection's read loop writes and clears it; the ASR
// stream adapter and the forced-commit engine's recovery pass only ever
// read byte copies out of it.
type Ring struct {
	mu        sync.Mutex
	frames    []frame
	retention time.Duration
}

// NewRing returns a Ring retaining at least retention of audio (spec.md
// requires >= 2.5s).
func NewRing(retention time.Duration) *Ring {
	if retention < 2500*time.Millisecond {
		retention = 2500 * time.Millisecond
	}
	return &Ring{retention: retention}
}

// Write appends samples, stamped with the current time, and prunes frames
// older than the retention window.
func (r *Ring) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	cp := make([]int16, len(samples))
	copy(cp, samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{samples: cp, at: time.Now()})
	r.prune(time.Now())
}

// prune drops frames whose entire span lies before now-retention. Must be
// called with mu held.
func (r *Ring) prune(now time.Time) {
	cutoff := now.Add(-r.retention)
	i := 0
	for i < len(r.frames) && r.frames[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.frames = r.frames[i:]
	}
}

// GetRecentBytes returns a contiguous copy of the PCM16LE bytes received in
// the last windowMs milliseconds.
func (r *Ring) GetRecentBytes(windowMs int) []byte {
	now := time.Now()
	return r.GetWindow(now.Add(-time.Duration(windowMs)*time.Millisecond), now)
}

// GetWindow returns a contiguous copy of the PCM16LE bytes for frames
// whose timestamp falls within [from, to].
func (r *Ring) GetWindow(from, to time.Time) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var samples []int16
	for _, f := range r.frames {
		if f.at.Before(from) || f.at.After(to) {
			continue
		}
		samples = append(samples, f.samples...)
	}
	return int16ToBytes(samples)
}

// GetWindowAround returns the audio window centered on instant with preMs
// of audio before it and postMs after — used by the forced-commit engine's
// Phase 2 replay capture (spec.md §4.4/§9: missing words live in the
// decoder gap before the forced final, so preMs should dominate postMs).
func (r *Ring) GetWindowAround(instant time.Time, preMs, postMs int) []byte {
	from := instant.Add(-time.Duration(preMs) * time.Millisecond)
	to := instant.Add(time.Duration(postMs) * time.Millisecond)
	return r.GetWindow(from, to)
}

// Clear discards all stored audio.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 converts PCM16LE bytes back to samples; exported for the
// recovery recognizer and tests.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

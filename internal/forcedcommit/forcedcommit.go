// Package forcedcommit implements the Forced-Commit Engine: it buffers an
// ASR-forced final (emitted because the provider rotated its own stream,
// not because the speaker stopped) while it waits for late partials and
// runs an audio-replay recovery pass, so the stream-rotation boundary
// never drops words (spec.md §4.4).
package forcedcommit

import (
	"context"
	"strings"
	"sync"
	"time"

	"realtime-caption-translator/internal/audio"
	"realtime-caption-translator/internal/recovery"
	"realtime-caption-translator/internal/tracker"
)

// Config tunes the engine's timing. The recovery window's pre/post split
// is deliberately asymmetric (spec.md §9): words get dropped in the
// decoder gap before the forced final far more often than after it.
type Config struct {
	Phase1WaitMs int
	PreMs        int
	PostMs       int
}

// DefaultConfig matches spec.md §9's resolved defaults: 1200ms Phase-1
// wait, 1400ms pre / 800ms post recovery window (2200ms total).
func DefaultConfig() Config {
	return Config{Phase1WaitMs: 1200, PreMs: 1400, PostMs: 800}
}

type phase int

const (
	phaseIdle phase = iota
	phase1
	phase2
)

// Buffer is a forced final the engine is holding.
type Buffer struct {
	Text       string
	ReceivedAt time.Time
}

// Engine holds at most one Buffer at a time.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	buffer       *Buffer
	phase        phase
	phase1Timer  *time.Timer
	cancelPhase2 context.CancelFunc
}

// New returns an Engine using cfg.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Create buffers a newly received forced final and starts Phase 1.
// onPhase1Elapsed fires on its own goroutine once Phase1WaitMs has passed
// without the buffer being extended or cleared.
func (e *Engine) Create(text string, onPhase1Elapsed func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	e.buffer = &Buffer{Text: text, ReceivedAt: time.Now()}
	e.phase = phase1
	e.phase1Timer = time.AfterFunc(time.Duration(e.cfg.Phase1WaitMs)*time.Millisecond, onPhase1Elapsed)
}

// cancelLocked stops any in-flight timer/recovery call. Must hold mu.
func (e *Engine) cancelLocked() {
	if e.phase1Timer != nil {
		e.phase1Timer.Stop()
		e.phase1Timer = nil
	}
	if e.cancelPhase2 != nil {
		e.cancelPhase2()
		e.cancelPhase2 = nil
	}
}

// HasBuffer reports whether a forced-final buffer is currently held.
func (e *Engine) HasBuffer() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer != nil
}

// Snapshot returns a copy of the held buffer, if any.
func (e *Engine) Snapshot() (Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return Buffer{}, false
	}
	return *e.buffer, true
}

// Extends reports whether partial extends the buffered text (normalized
// prefix match, strictly longer), and is only honored during Phase 1 —
// once Phase 2 has started the replay pass owns the commit decision.
func (e *Engine) Extends(partial string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil || e.phase != phase1 {
		return "", false
	}
	if len(partial) <= len(e.buffer.Text) {
		return "", false
	}
	if !strings.HasPrefix(tracker.Normalize(partial), tracker.Normalize(e.buffer.Text)) {
		return "", false
	}
	return partial, true
}

// CommitExtended cancels Phase 1/2 and clears the buffer, for the case
// where a Phase-1 partial already extends it — the caller commits
// extended directly as a merged final.
func (e *Engine) CommitExtended() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.buffer = nil
	e.phase = phaseIdle
}

// Clear discards the buffer and cancels any in-flight phase.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	e.buffer = nil
	e.phase = phaseIdle
}

// RunPhase2 captures the replay window from ring, runs it through
// recognizer, merges the result with the buffered text via
// recovery.Merge, and reports the commit text and its Final source
// ("merged" if recovery.Merge accepted a result, including one that only
// confirmed the buffered tail; "forced" if recovery produced nothing
// usable) to onDone. It is a no-op if the buffer was cleared before Phase 2 started
// (e.g. a Phase-1 extension already committed it).
func (e *Engine) RunPhase2(parent context.Context, ring *audio.Ring, recognizer *recovery.Recognizer, lang string, onDone func(text, source string)) {
	e.mu.Lock()
	if e.buffer == nil {
		e.mu.Unlock()
		return
	}
	buf := *e.buffer
	ctx, cancel := context.WithCancel(parent)
	e.phase = phase2
	e.cancelPhase2 = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()

		window := ring.GetWindowAround(buf.ReceivedAt, e.cfg.PreMs, e.cfg.PostMs)
		text, source := buf.Text, "forced"

		result, err := recognizer.Recognize(ctx, window, lang)
		if err == nil && result.Text != nil {
			if merged, ok := recovery.Merge(buf.Text, *result.Text); ok {
				text, source = merged, "merged"
			}
		}

		e.mu.Lock()
		stillOurs := e.buffer != nil && e.buffer.ReceivedAt.Equal(buf.ReceivedAt)
		if stillOurs {
			e.buffer = nil
			e.phase = phaseIdle
			e.cancelPhase2 = nil
		}
		e.mu.Unlock()

		if stillOurs {
			onDone(text, source)
		}
	}()
}

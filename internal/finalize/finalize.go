// Package finalize implements the Finalization Engine: it holds at most
// one final the pipeline has received but is deliberately withholding, on
// the chance that a late-arriving partial extends it (spec.md §4.3).
package finalize

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"realtime-caption-translator/internal/tracker"
)

const (
	// BaseWaitMs is the minimum hold time for a complete-sentence final.
	BaseWaitMs = 1000
	// LongFinalWaitMs is the hold time for an incomplete final longer
	// than LongFinalChars.
	LongFinalWaitMs = 3500
	// LongFinalChars is the length at which an incomplete final's wait
	// saturates at LongFinalWaitMs.
	LongFinalChars = 300
	// MaxFinalizationWaitMs bounds total hold time from createdAt,
	// regardless of how many extensions arrive.
	MaxFinalizationWaitMs = 5000
	// NewSegmentGraceMs is how long after createdAt a non-extending
	// partial is still assumed to be the tail of the same segment rather
	// than the start of a new one.
	NewSegmentGraceMs = 500
	// LongestExtendWithinMs / LatestExtendWithinMs bound how stale a
	// tracked partial may be to still count as a valid extension at
	// commit time.
	LongestExtendWithinMs = 10000
	LatestExtendWithinMs  = 5000
)

var sentenceEndRe = regexp.MustCompile(`[.!?…]+["')\]]*$`)

// EndsWithCompleteSentence reports whether s, trimmed, ends with sentence
// punctuation optionally followed by closing quotes/brackets.
func EndsWithCompleteSentence(s string) bool {
	return sentenceEndRe.MatchString(strings.TrimSpace(s))
}

// knownIncompletePrefixes are short finals ASR tends to terminate with a
// period even though the speaker is mid-clause.
var knownIncompletePrefixes = []string{
	"i've", "you just can't", "we have", "they have", "it has",
	"i have", "you have", "i'm", "we're", "they're", "it's",
	"there's", "that's", "he's", "she's",
}

// IsFalseFinal reports whether a short final ending in terminal
// punctuation is nonetheless a known-incomplete prefix and should be
// treated as incomplete regardless of its punctuation.
func IsFalseFinal(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= 25 {
		return false
	}
	if !EndsWithCompleteSentence(trimmed) {
		return false
	}
	norm := tracker.Normalize(trimmed)
	for _, prefix := range knownIncompletePrefixes {
		if strings.HasPrefix(norm, prefix) {
			return true
		}
	}
	return false
}

// ComputeInitialWait picks the hold duration for a freshly created
// pending finalization per spec.md §4.3 rules 1-2.
func ComputeInitialWait(text string) time.Duration {
	if EndsWithCompleteSentence(text) && !IsFalseFinal(text) {
		return BaseWaitMs * time.Millisecond
	}

	n := len(text)
	if n >= LongFinalChars {
		return LongFinalWaitMs * time.Millisecond
	}
	// Linear scale from BaseWaitMs at n=0 to LongFinalWaitMs at
	// LongFinalChars.
	span := LongFinalWaitMs - BaseWaitMs
	waitMs := BaseWaitMs + span*n/LongFinalChars
	return time.Duration(waitMs) * time.Millisecond
}

// Pending is a final the engine is holding open.
type Pending struct {
	Text            string
	SeqID           *uint64
	CreatedAt       time.Time
	MaxWaitDeadline time.Time
}

// Engine holds at most one Pending finalization at a time.
type Engine struct {
	mu      sync.Mutex
	pending *Pending
	timer   *time.Timer
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{}
}

// Create stores a new pending finalization and schedules its initial
// timeout. onTimeout is invoked on its own goroutine if the timer fires
// before the pending is cleared or committed by other means; callers must
// re-acquire any session-owned locks inside onTimeout.
func (e *Engine) Create(text string, seqID *uint64, onTimeout func()) {
	now := time.Now()
	wait := ComputeInitialWait(text)
	deadline := now.Add(wait)
	if max := now.Add(MaxFinalizationWaitMs * time.Millisecond); deadline.After(max) {
		deadline = max
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &Pending{Text: text, SeqID: seqID, CreatedAt: now, MaxWaitDeadline: deadline}
	e.scheduleTimeoutLocked(deadline.Sub(now), onTimeout)
}

// scheduleTimeoutLocked cancels any existing timer and starts a new one.
// Must be called with mu held.
func (e *Engine) scheduleTimeoutLocked(delay time.Duration, onTimeout func()) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, onTimeout)
}

// UpdateText replaces the held pending's text, used when an extending
// partial arrives before commit.
func (e *Engine) UpdateText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.Text = text
	}
}

// ExtendDeadline pushes the pending's deadline out by `by`, capped at
// createdAt+MaxFinalizationWaitMs, and reschedules the timer.
func (e *Engine) ExtendDeadline(by time.Duration, onTimeout func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return
	}
	cap := e.pending.CreatedAt.Add(MaxFinalizationWaitMs * time.Millisecond)
	newDeadline := e.pending.MaxWaitDeadline.Add(by)
	if newDeadline.After(cap) {
		newDeadline = cap
	}
	e.pending.MaxWaitDeadline = newDeadline
	e.scheduleTimeoutLocked(time.Until(newDeadline), onTimeout)
}

// ShouldCommitOnPartial implements rule 3: a non-extending partial
// arriving more than NewSegmentGraceMs after createdAt means a new
// segment has started and the pending must commit immediately.
func (e *Engine) ShouldCommitOnPartial(extendsPending bool, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return false
	}
	if extendsPending {
		return false
	}
	return now.Sub(e.pending.CreatedAt) > NewSegmentGraceMs*time.Millisecond
}

// Clear cancels the timer and discards the pending finalization.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
}

func (e *Engine) clearLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = nil
}

// HasPending reports whether a pending finalization is currently held.
func (e *Engine) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// Snapshot returns a copy of the held pending, if any.
func (e *Engine) Snapshot() (Pending, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Pending{}, false
	}
	return *e.pending, true
}

// ResolveAndCommit implements rule 4: just before commit, ask the tracker
// for a partial that extends the pending text and take the longest valid
// extension over mergeWithOverlap, falling back to the pending's own
// text. The claim-and-clear happens in one critical section, so of two
// callers racing on the same pending (the timer goroutine and the
// session goroutine can both land here for the same segment) only the
// first observes a non-nil pending; the second gets ("", false). Returns
// ("", false) if there was no pending to commit.
func (e *Engine) ResolveAndCommit(t *tracker.Tracker) (string, bool) {
	e.mu.Lock()
	pending := e.pending
	e.clearLocked()
	e.mu.Unlock()
	if pending == nil {
		return "", false
	}

	resolved := pending.Text

	if ext, ok := t.CheckLongestExtends(resolved, LongestExtendWithinMs); ok {
		resolved = ext.ExtendedText
	} else if ext, ok := t.CheckLatestExtends(resolved, LatestExtendWithinMs); ok {
		resolved = ext.ExtendedText
	} else if merged, ok := tracker.MergeWithOverlap(resolved, t.Snapshot().Latest.Text); ok && len(merged) > len(resolved) {
		resolved = merged
	}

	return resolved, true
}

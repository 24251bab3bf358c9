// Package tracker holds the two live transcript hypotheses — latest and
// longest — that the finalization and forced-commit engines consult when
// deciding whether a held final can be extended by speech ASR has already
// produced as an interim partial.
package tracker

import (
	"strings"
	"sync"
	"time"
)

// Partial is a transcript hypothesis from ASR that may still grow or be
// revised before it is superseded or finalized.
type Partial struct {
	Text       string
	ReceivedAt time.Time
}

func (p Partial) empty() bool { return p.Text == "" }

// Extension is the result of a partial successfully extending a base text.
type Extension struct {
	ExtendedText string
	MissingWords []string
}

// Tracker remembers the most recently received partial (Latest) and the
// longest partial seen since the last Reset (Longest), independently of
// each other. Longest may be stale: its timestamp can precede Latest's.
type Tracker struct {
	mu      sync.Mutex
	latest  Partial
	longest Partial
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Update records a newly received partial. Empty text is ignored — ASR
// sometimes emits blank interim results during silence.
func (t *Tracker) Update(text string) {
	if text == "" {
		return
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = Partial{Text: text, ReceivedAt: now}
	if t.longest.empty() || len(text) > len(t.longest.Text) {
		t.longest = Partial{Text: text, ReceivedAt: now}
	}
}

// Snapshot is a value copy of both tracked partials; it never aliases
// Tracker's internal state, so callers may hold it across suspension
// points safely.
type Snapshot struct {
	Latest  Partial
	Longest Partial
}

// Snapshot returns a copy of the current latest/longest partials.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Latest: t.latest, Longest: t.longest}
}

// Reset clears both tracked partials. Per the recovery rule in spec.md
// §9, callers must reset only after a final has fully committed (and any
// dependent recovery pass has resolved) — never before a Snapshot that
// feeds that commit.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = Partial{}
	t.longest = Partial{}
}

// CheckLongestExtends reports whether the tracked longest partial extends
// base: its age must be <= withinMs, it must be strictly longer than base,
// and it must start with base under normalization.
func (t *Tracker) CheckLongestExtends(base string, withinMs int64) (Extension, bool) {
	t.mu.Lock()
	p := t.longest
	t.mu.Unlock()
	return checkExtends(p, base, withinMs)
}

// CheckLatestExtends is the Latest-partial counterpart of
// CheckLongestExtends.
func (t *Tracker) CheckLatestExtends(base string, withinMs int64) (Extension, bool) {
	t.mu.Lock()
	p := t.latest
	t.mu.Unlock()
	return checkExtends(p, base, withinMs)
}

func checkExtends(p Partial, base string, withinMs int64) (Extension, bool) {
	if p.empty() || base == "" {
		return Extension{}, false
	}
	if time.Since(p.ReceivedAt) > time.Duration(withinMs)*time.Millisecond {
		return Extension{}, false
	}
	if len(p.Text) <= len(base) {
		return Extension{}, false
	}
	if !startsWithNormalized(p.Text, base) {
		return Extension{}, false
	}
	tail := strings.TrimSpace(p.Text[len(base):])
	return Extension{ExtendedText: p.Text, MissingWords: tokenize(tail)}, true
}

// MergeWithOverlap joins curr onto prev on their common boundary. It
// returns ok=false when no overlap of at least 3 characters exists. This
// is the hottest operation in the finalization pipeline — keep it
// allocation-light.
func MergeWithOverlap(prev, curr string) (string, bool) {
	if normalize(curr) == normalize(prev) {
		return curr, true
	}
	if startsWithNormalized(curr, prev) {
		return curr, true
	}

	prevNorm := normalize(prev)
	currNorm := normalize(curr)

	maxOverlap := len(prevNorm)
	if len(currNorm) < maxOverlap {
		maxOverlap = len(currNorm)
	}
	for overlapLen := maxOverlap; overlapLen >= 3; overlapLen-- {
		if prevNorm[len(prevNorm)-overlapLen:] == currNorm[:overlapLen] {
			return strings.TrimSpace(prev) + " " + strings.TrimSpace(curr[runeOffset(curr, overlapLen):]), true
		}
	}
	return "", false
}

// runeOffset maps a byte offset computed against the normalized (lowercased,
// whitespace-collapsed) form of s back onto an approximate cut point in s
// itself. Normalization never changes string length enough to matter for
// the short overlap windows this function is called with, so a
// best-effort byte offset is sufficient.
func runeOffset(s string, n int) int {
	if n > len(s) {
		return len(s)
	}
	return n
}

// normalize lowercases s and collapses internal whitespace runs to a
// single space, trimming leading/trailing whitespace.
func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

func startsWithNormalized(s, prefix string) bool {
	return strings.HasPrefix(normalize(s), normalize(prefix))
}

// tokenize splits s into lowercased, punctuation-stripped words, for the
// word-level fuzzy merge helpers used by the recovery merger (§4.6).
func tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := stripPunct(strings.ToLower(f))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func stripPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// Overlap returns the length of the longest suffix of a's tokens that
// equals a prefix of b's tokens.
func Overlap(a, b []string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if equalSlices(a[len(a)-n:], b[:n]) {
			return n
		}
	}
	return 0
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Tokenize exposes tokenize for the recovery merger.
func Tokenize(s string) []string { return tokenize(s) }

// Normalize exposes normalize for callers outside the package that need
// the same whitespace/case canonicalization (e.g. false-final prefix
// matching in the finalization engine).
func Normalize(s string) string { return normalize(s) }

// Package recovery replays a short audio window through a secondary
// recognizer after a forced stream-rotation final, and smart-merges its
// output back into the primary transcript (spec.md §4.5, §4.6).
package recovery

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"realtime-caption-translator/internal/tracker"
)

// fuzzyAnchorSimilarity is the minimum Tier-2 similarity to accept a
// fuzzy anchor match.
const fuzzyAnchorSimilarity = 0.72

// fuzzyAnchorLookback bounds how many trailing buffered tokens Tier 2 will
// consider.
const fuzzyAnchorLookback = 6

// Merge implements the three-tier recovery merge algorithm. buffered is
// the committed prefix ending at the forced-final cut; recovered is the
// short transcript of the replayed overlap-window audio. It returns
// ("", false) if nothing better than buffered could be produced.
func Merge(buffered, recovered string) (string, bool) {
	recovered = strings.TrimSpace(recovered)
	if recovered == "" {
		return "", false
	}

	bufTokens := tracker.Tokenize(buffered)
	recTokens := tracker.Tokenize(recovered)

	if merged, ok := exactAnchor(buffered, recovered, bufTokens, recTokens); ok {
		return acceptIfImproved(buffered, merged)
	}
	if merged, ok := fuzzyAnchor(buffered, recovered, bufTokens, recTokens); ok {
		return acceptIfImproved(buffered, merged)
	}

	// Tier 3 — append. Deliberately permissive: the decoder gap may have
	// swallowed a word that appears nowhere in either side.
	merged := strings.TrimSpace(buffered) + " " + recovered
	return acceptIfImproved(buffered, normalizeWhitespace(merged))
}

// acceptIfImproved applies the caller contract: the merge is used only if
// it's strictly longer than buffered, or Tier 1/2 confirmed the tail
// (signaled by merged == buffered, which is itself "improved" in the
// sense that it confirms recovery agreed with the existing commit).
func acceptIfImproved(buffered, merged string) (string, bool) {
	merged = normalizeWhitespace(merged)
	if merged == normalizeWhitespace(buffered) {
		return merged, true
	}
	if len(merged) > len(buffered) {
		return merged, true
	}
	return "", false
}

// exactAnchor scans buffered tokens right to left; for each, scans
// recovered tokens left to right for an exact normalized match. The first
// hit anchors the merge.
func exactAnchor(buffered, recovered string, bufTokens, recTokens []string) (string, bool) {
	for i := len(bufTokens) - 1; i >= 0; i-- {
		for j := 0; j < len(recTokens); j++ {
			if bufTokens[i] == recTokens[j] {
				return joinAtAnchor(buffered, recovered, recTokens, j), true
			}
		}
	}
	return "", false
}

// fuzzyAnchor is exactAnchor's Tier-2 counterpart using Levenshtein
// similarity instead of exact equality, restricted to the last
// fuzzyAnchorLookback buffered tokens of length >= 2.
func fuzzyAnchor(buffered, recovered string, bufTokens, recTokens []string) (string, bool) {
	start := len(bufTokens) - fuzzyAnchorLookback
	if start < 0 {
		start = 0
	}

	bestSim := 0.0
	bestJ := -1
	for i := len(bufTokens) - 1; i >= start; i-- {
		a := bufTokens[i]
		if len(a) < 2 {
			continue
		}
		for j := 0; j < len(recTokens); j++ {
			b := recTokens[j]
			if len(b) < 2 {
				continue
			}
			sim := similarity(a, b)
			if sim >= fuzzyAnchorSimilarity && sim > bestSim {
				bestSim = sim
				bestJ = j
			}
		}
	}
	if bestJ < 0 {
		return "", false
	}
	return joinAtAnchor(buffered, recovered, recTokens, bestJ), true
}

// joinAtAnchor builds "buffered + recovered[anchorIndex+1:]" on the token
// boundary, or just buffered if the recovered tail is empty (recovery
// only confirmed the tail).
func joinAtAnchor(buffered, recovered string, recTokens []string, anchorIndex int) string {
	tailTokens := recTokens[anchorIndex+1:]
	if len(tailTokens) == 0 {
		return buffered
	}
	tail := tailFromTokenIndex(recovered, recTokens, anchorIndex+1)
	return strings.TrimSpace(buffered) + " " + tail
}

// tailFromTokenIndex re-derives the original-cased substring of recovered
// starting at the word boundary corresponding to tailStart in the
// tokenized form, by rejoining the remaining whitespace-split fields.
func tailFromTokenIndex(recovered string, tokens []string, tailStart int) string {
	fields := strings.Fields(recovered)
	// tokens is derived from fields via tokenize (punctuation-stripped,
	// lowercased) with empty tokens dropped, so in the common case their
	// lengths match. When they don't, the tail is still cut at field index
	// tailStart (empty if that is past the last field), which is off by
	// the number of punctuation-only fields before the cut.
	if len(fields) == len(tokens) {
		return strings.Join(fields[tailStart:], " ")
	}
	if tailStart >= len(fields) {
		return ""
	}
	return strings.Join(fields[tailStart:], " ")
}

func similarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package span resolves evidence quotes to authoritative byte spans in the
// canonical email text.
//
// LLM-supplied spans are unreliable: models routinely off-by-one or invent
// offsets wholesale. The resolver therefore recomputes every span from the
// quote text itself — exact substring search first, then a fuzzy sliding
// window — and demotes whatever the model claimed to an audit field.
package span

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/inboxlab/triage/internal/triage"
)

const (
	// DefaultWindowSlack widens each fuzzy comparison window beyond the
	// quote length to absorb insertions in the source text.
	DefaultWindowSlack = 20

	// DefaultMinRatio is the minimum similarity for a fuzzy match.
	DefaultMinRatio = 0.85

	// DefaultEvidenceFailureThreshold is the fraction of failed evidence
	// verifications above which the record should be retried upstream.
	DefaultEvidenceFailureThreshold = 0.3
)

// Resolver locates quotes in canonical text. The zero value is not usable;
// construct with NewResolver.
type Resolver struct {
	WindowSlack int
	MinRatio    float64
}

// NewResolver returns a resolver with default window slack and similarity
// threshold.
func NewResolver() *Resolver {
	return &Resolver{WindowSlack: DefaultWindowSlack, MinRatio: DefaultMinRatio}
}

// Resolve locates quote in text. Exact substring matches win outright; the
// earliest occurrence is authoritative. Otherwise every window of
// len(quote)+WindowSlack bytes is scored with sequence similarity, the best
// window (earliest on ties) is taken, and the span is trimmed to the quote
// length. Below MinRatio the quote is reported not found, with a nil span.
func (r *Resolver) Resolve(quote, text string) ([]int, triage.SpanStatus) {
	if quote == "" || text == "" {
		return nil, triage.SpanNotFound
	}
	if start := strings.Index(text, quote); start >= 0 {
		return []int{start, start + len(quote)}, triage.SpanExactMatch
	}

	qlen := len(quote)
	window := qlen + r.WindowSlack
	limit := len(text) - qlen + 1
	bestRatio := 0.0
	bestStart := -1
	for i := 0; i < limit; i++ {
		end := i + window
		if end > len(text) {
			end = len(text)
		}
		if ratio := similarity(quote, text[i:end]); ratio > bestRatio {
			bestRatio = ratio
			bestStart = i
		}
	}
	if bestStart >= 0 && bestRatio >= r.MinRatio {
		return []int{bestStart, bestStart + qlen}, triage.SpanFuzzyMatch
	}
	return nil, triage.SpanNotFound
}

// EnrichEvidence recomputes the span of every evidence item in place. The
// model-supplied span is moved to span_llm, the resolved span and its status
// replace it, and each item is stamped with the SHA-256 of the text it was
// resolved against.
func (r *Resolver) EnrichEvidence(topics []*triage.Topic, text string) {
	sum := sha256.Sum256([]byte(text))
	textHash := hex.EncodeToString(sum[:])
	for _, topic := range topics {
		for _, ev := range topic.Evidence {
			resolved, status := r.Resolve(ev.Quote, text)
			ev.SpanLLM = ev.Span
			ev.Span = resolved
			ev.SpanStatus = status
			ev.TextHash = textHash
		}
	}
}

// VerifyEvidence checks every evidence item against the text and returns one
// warning per failed check: quotes that do not occur verbatim, spans that fall
// outside the text, and spans that extract something other than their quote.
func VerifyEvidence(topics []*triage.Topic, text string) []string {
	var warnings []string
	for _, topic := range topics {
		for _, ev := range topic.Evidence {
			if ev.Quote != "" && !strings.Contains(text, ev.Quote) {
				warnings = append(warnings, fmt.Sprintf(
					"Evidence quote not found in text: '%s'", truncate(ev.Quote, 50)))
			}
			if len(ev.Span) != 2 {
				continue
			}
			start, end := ev.Span[0], ev.Span[1]
			if start < 0 || end > len(text) || start >= end {
				warnings = append(warnings, fmt.Sprintf(
					"Span out of bounds: [%d, %d] for text of length %d", start, end, len(text)))
				continue
			}
			if extracted := text[start:end]; extracted != ev.Quote {
				warnings = append(warnings, fmt.Sprintf(
					"Span mismatch: span=[%d, %d] extracts '%s', quote is '%s'",
					start, end, truncate(extracted, 50), truncate(ev.Quote, 50)))
			}
		}
	}
	return warnings
}

// EnforceEvidencePolicy reports whether the record's evidence is trustworthy
// enough to keep. It fails only when the fraction of failed verifications
// exceeds threshold; a record with no evidence at all passes vacuously.
func EnforceEvidencePolicy(topics []*triage.Topic, text string, threshold float64) bool {
	total := 0
	for _, topic := range topics {
		total += len(topic.Evidence)
	}
	if total == 0 {
		return true
	}
	failures := len(VerifyEvidence(topics, text))
	return float64(failures)/float64(total) <= threshold
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// similarity is the Ratcliff/Obershelp ratio over bytes: twice the total
// length of recursively matched blocks divided by the combined length.
// Equivalent to Python difflib.SequenceMatcher with autojunk disabled.
func similarity(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	return 2 * float64(matchTotal(a, b)) / float64(len(a)+len(b))
}

func matchTotal(a, b string) int {
	b2j := make(map[byte][]int, 64)
	for j := 0; j < len(b); j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	type region struct{ alo, ahi, blo, bhi int }
	total := 0
	stack := []region{{0, len(a), 0, len(b)}}
	for len(stack) > 0 {
		reg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, j, size := longestMatch(a, reg.alo, reg.ahi, reg.blo, reg.bhi, b2j)
		if size == 0 {
			continue
		}
		total += size
		stack = append(stack,
			region{reg.alo, i, reg.blo, j},
			region{i + size, reg.ahi, j + size, reg.bhi})
	}
	return total
}

// longestMatch finds the longest block of a[alo:ahi] that also occurs in
// b[blo:bhi], preferring the earliest position, mirroring difflib's
// find_longest_match.
func longestMatch(a string, alo, ahi, blo, bhi int, b2j map[byte][]int) (besti, bestj, bestsize int) {
	besti, bestj = alo, blo
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		positions := b2j[a[i]]
		// positions is sorted ascending, so a binary search skips the
		// part of the index below blo.
		lo := sort.SearchInts(positions, blo)
		newj2len := map[int]int{}
		for _, j := range positions[lo:] {
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}

package span

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/inboxlab/triage/internal/triage"
)

const fixtureBody = "Buongiorno, vorrei confermare i dati del contratto. " +
	"Ho una fattura da saldare entro il 15 marzo. " +
	"Il mio codice è RSSMRA85M01H501Z. " +
	"Potete contattarmi a mario.rossi@example.it."

func TestResolveExactMatch(t *testing.T) {
	r := NewResolver()

	quote := "confermare i dati del contratto"
	span, status := r.Resolve(quote, fixtureBody)

	if status != triage.SpanExactMatch {
		t.Fatalf("status = %q, want exact_match", status)
	}
	if len(span) != 2 {
		t.Fatalf("span = %v, want [start, end]", span)
	}
	if got := fixtureBody[span[0]:span[1]]; got != quote {
		t.Errorf("text[%d:%d] = %q, want %q", span[0], span[1], got, quote)
	}
}

func TestResolveExactMatchEarliestOccurrence(t *testing.T) {
	r := NewResolver()

	span, status := r.Resolve("abc", "xx abc yy abc")
	if status != triage.SpanExactMatch {
		t.Fatalf("status = %q, want exact_match", status)
	}
	if span[0] != 3 || span[1] != 6 {
		t.Errorf("span = %v, want [3 6]", span)
	}
}

func TestResolveFuzzyMatch(t *testing.T) {
	r := NewResolver()

	text := "Vorrei confermare il mio contratto"
	quote := "confermare il mio contrato" // dropped 't'

	span, status := r.Resolve(quote, text)
	if status != triage.SpanFuzzyMatch {
		t.Fatalf("status = %q, want fuzzy_match", status)
	}
	if span[0] != 7 {
		t.Errorf("span start = %d, want 7", span[0])
	}
	if span[1]-span[0] != len(quote) {
		t.Errorf("span width = %d, want len(quote) = %d", span[1]-span[0], len(quote))
	}
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name  string
		quote string
		text  string
	}{
		{"unrelated quote", "argomento inesistente", "tutt'altro discorso qui"},
		{"empty quote", "", fixtureBody},
		{"empty text", "qualcosa", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, status := r.Resolve(tt.quote, tt.text)
			if status != triage.SpanNotFound {
				t.Errorf("status = %q, want not_found", status)
			}
			if span != nil {
				t.Errorf("span = %v, want nil", span)
			}
		})
	}
}

func TestEnrichEvidence(t *testing.T) {
	r := NewResolver()
	topics := []*triage.Topic{
		{
			LabelID: "CONTRATTO",
			Evidence: []*triage.Evidence{
				{Quote: "confermare i dati del contratto", Span: []int{22, 53}},
				{Quote: "frase mai scritta nel testo"},
			},
		},
	}

	r.EnrichEvidence(topics, fixtureBody)

	sum := sha256.Sum256([]byte(fixtureBody))
	wantHash := hex.EncodeToString(sum[:])

	first := topics[0].Evidence[0]
	if first.SpanStatus != triage.SpanExactMatch {
		t.Errorf("first status = %q, want exact_match", first.SpanStatus)
	}
	if len(first.SpanLLM) != 2 || first.SpanLLM[0] != 22 || first.SpanLLM[1] != 53 {
		t.Errorf("span_llm = %v, want original [22 53]", first.SpanLLM)
	}
	if got := fixtureBody[first.Span[0]:first.Span[1]]; got != first.Quote {
		t.Errorf("resolved span extracts %q, want the quote", got)
	}
	if first.TextHash != wantHash {
		t.Errorf("text_hash = %q, want sha256 of text", first.TextHash)
	}

	second := topics[0].Evidence[1]
	if second.SpanStatus != triage.SpanNotFound {
		t.Errorf("second status = %q, want not_found", second.SpanStatus)
	}
	if second.Span != nil {
		t.Errorf("second span = %v, want nil", second.Span)
	}
	if second.TextHash != wantHash {
		t.Errorf("second text_hash missing")
	}
}

func TestVerifyEvidence(t *testing.T) {
	topics := []*triage.Topic{
		{
			LabelID: "FATTURAZIONE",
			Evidence: []*triage.Evidence{
				{Quote: "fattura da saldare"},                    // present
				{Quote: "testo inventato dal modello"},           // absent
				{Quote: "fattura da saldare", Span: []int{0, 5}}, // span extracts wrong text
				{Quote: "fattura da saldare", Span: []int{0, 99999}},
			},
		},
	}

	warnings := VerifyEvidence(topics, fixtureBody)
	if len(warnings) != 3 {
		t.Fatalf("warnings = %v, want 3 entries", warnings)
	}
}

func TestEnforceEvidencePolicy(t *testing.T) {
	good := []*triage.Topic{
		{Evidence: []*triage.Evidence{{Quote: "fattura da saldare"}}},
	}
	bad := []*triage.Topic{
		{Evidence: []*triage.Evidence{{Quote: "frase del tutto inventata"}}},
	}
	var empty []*triage.Topic

	if !EnforceEvidencePolicy(good, fixtureBody, DefaultEvidenceFailureThreshold) {
		t.Error("verifiable evidence should pass")
	}
	if EnforceEvidencePolicy(bad, fixtureBody, DefaultEvidenceFailureThreshold) {
		t.Error("fully unverifiable evidence should fail")
	}
	if !EnforceEvidencePolicy(empty, fixtureBody, DefaultEvidenceFailureThreshold) {
		t.Error("no evidence at all passes vacuously")
	}
}

func TestSimilarityIdenticalAndDisjoint(t *testing.T) {
	if got := similarity("contratto", "contratto"); got != 1 {
		t.Errorf("similarity of identical strings = %g, want 1", got)
	}
	if got := similarity("aaaa", "bbbb"); got != 0 {
		t.Errorf("similarity of disjoint strings = %g, want 0", got)
	}
	// Ratcliff/Obershelp: 2M/T with M=3 ("bcd"), T=8.
	if got := similarity("abcd", "bcde"); got != 0.75 {
		t.Errorf("similarity(abcd, bcde) = %g, want 0.75", got)
	}
}

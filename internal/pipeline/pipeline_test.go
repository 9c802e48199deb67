package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/inboxlab/triage/internal/barrier"
	"github.com/inboxlab/triage/internal/triage"
)

const fixtureBody = "Buongiorno, vorrei confermare i dati del contratto. " +
	"Ho una fattura da saldare entro il 15 marzo. " +
	"Il mio codice è RSSMRA85M01H501Z. " +
	"Potete contattarmi a mario.rossi@example.it."

// The LLM-claimed spans are deliberately off by a few bytes; enrichment must
// recompute them server-side.
const fixtureLLMOutput = `{
	"dictionaryversion": 42,
	"sentiment": {"value": "neutral", "confidence": 0.7},
	"priority": {"value": "medium", "confidence": 0.6, "signals": ["scadenza"]},
	"topics": [
		{
			"labelid": "CONTRATTO",
			"confidence": 0.9,
			"keywordsintext": [{"candidateid": "C001"}],
			"evidence": [{"quote": "confermare i dati del contratto", "span": [22, 53]}]
		},
		{
			"labelid": "FATTURAZIONE",
			"confidence": 0.7,
			"keywordsintext": [{"candidateid": "C002"}],
			"evidence": [{"quote": "fattura da saldare", "span": [62, 80]}]
		}
	]
}`

func fixtureCandidates() []triage.Candidate {
	return []triage.Candidate{
		{CandidateID: "C001", Term: "contratto", Lemma: "contratto", Count: 2, Source: "subject", EmbeddingScore: 0.88, Score: 0.70},
		{CandidateID: "C002", Term: "fattura", Lemma: "fattura", Count: 1, Source: "body", EmbeddingScore: 0.65, Score: 0.55},
	}
}

func fixtureDocument() triage.EmailDocument {
	return triage.EmailDocument{
		MessageID:     "int-test-001@example.it",
		FromRaw:       "Mario Rossi <mario.rossi@example.it>",
		Subject:       "Richiesta urgente contratto ABC",
		Body:          fixtureBody,
		BodyCanonical: fixtureBody,
	}
}

func TestProcessEndToEnd(t *testing.T) {
	store := barrier.NewMemoryKV()
	p := New(Options{Store: store, RunID: "test-run"})

	out, err := p.Process(context.Background(), fixtureLLMOutput, fixtureCandidates(),
		fixtureDocument(), triage.NewPipelineVersion(42, "test"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.MessageID != "int-test-001@example.it" {
		t.Errorf("message_id = %q", out.MessageID)
	}
	if out.PipelineVersion.DictionaryVersion != 42 {
		t.Errorf("pipeline_version = %+v", out.PipelineVersion)
	}

	// Topics carry catalog-resolved keywords and adjusted confidences.
	if len(out.Triage.Topics) != 2 {
		t.Fatalf("topics = %d, want 2", len(out.Triage.Topics))
	}
	for _, topic := range out.Triage.Topics {
		if len(topic.Keywords) != 1 {
			t.Errorf("topic %s: keywords = %d, want 1", topic.LabelID, len(topic.Keywords))
		}
		if topic.Confidence != topic.ConfidenceAdjusted {
			t.Errorf("topic %s: confidence %g diverges from adjusted %g",
				topic.LabelID, topic.Confidence, topic.ConfidenceAdjusted)
		}
		if topic.ConfidenceLLM == topic.ConfidenceAdjusted {
			t.Errorf("topic %s: adjustment left the LLM value untouched", topic.LabelID)
		}
	}
	first := out.Triage.Topics[0]
	if first.Keywords[0].Term != "contratto" || first.Keywords[0].Count != 2 {
		t.Errorf("keyword = %+v, want catalog values", first.Keywords[0])
	}

	// Spans were recomputed: both quotes exist verbatim in the text.
	for _, topic := range out.Triage.Topics {
		for _, ev := range topic.Evidence {
			if ev.SpanStatus != triage.SpanExactMatch {
				t.Errorf("evidence %q: status = %s, want exact_match", ev.Quote, ev.SpanStatus)
			}
			if fixtureBody[ev.Span[0]:ev.Span[1]] != ev.Quote {
				t.Errorf("evidence %q: span %v does not extract the quote", ev.Quote, ev.Span)
			}
			if len(ev.SpanLLM) != 2 {
				t.Errorf("evidence %q: original LLM span not preserved", ev.Quote)
			}
			if ev.TextHash == "" {
				t.Errorf("evidence %q: missing text hash", ev.Quote)
			}
		}
	}
	if out.Metadata.SpanExactMatchCount != 2 || out.Metadata.SpanNotFoundCount != 0 {
		t.Errorf("span counts = %+v", out.Metadata)
	}

	// Stale findings about the LLM's wrong spans must not survive enrichment.
	for _, w := range out.Diagnostics.Warnings {
		if strings.HasPrefix(w, "Span mismatch:") || strings.HasPrefix(w, "Span out of bounds:") {
			t.Errorf("stale span warning survived: %q", w)
		}
	}
	if out.Diagnostics.Errors == nil || len(out.Diagnostics.Errors) != 0 {
		t.Errorf("diagnostics.errors = %v, want empty", out.Diagnostics.Errors)
	}

	// Deterministic enrichment around the triage block.
	if out.Triage.CustomerStatus.Value != "existing" || out.Triage.CustomerStatus.Source != "crm_exact_match" {
		t.Errorf("customer status = %+v", out.Triage.CustomerStatus)
	}
	if out.Triage.Priority.Value != "urgent" {
		t.Errorf("priority = %+v, want urgent (urgente + deadline)", out.Triage.Priority)
	}

	foundLabels := map[string]bool{}
	for _, e := range out.Entities {
		foundLabels[e.Label] = true
	}
	if !foundLabels["EMAIL"] || !foundLabels["CODICEFISCALE"] {
		t.Errorf("entities = %+v, want EMAIL and CODICEFISCALE", out.Entities)
	}
	if out.Metadata.EntitiesExtracted != len(out.Entities) {
		t.Errorf("metadata entity count %d != %d", out.Metadata.EntitiesExtracted, len(out.Entities))
	}

	if len(out.Observations) != 2 || out.Metadata.ObservationsCreated != 2 {
		t.Errorf("observations = %d (metadata %d), want 2", len(out.Observations), out.Metadata.ObservationsCreated)
	}
	for _, o := range out.Observations {
		if o.DictVersion != 42 || o.PromotedToActive {
			t.Errorf("observation = %+v", o)
		}
	}
	if out.Metadata.ConfidenceAdjusted != 2 {
		t.Errorf("confidence adjustments = %d, want 2", out.Metadata.ConfidenceAdjusted)
	}

	// Both layers persisted raw and normalized payloads.
	gate := barrier.New(store, "test-run", "int-test-001@example.it")
	var normalized triage.Triage
	if err := gate.GetNormalized(context.Background(), LayerValidation, &normalized); err != nil {
		t.Errorf("validation layer normalized payload: %v", err)
	}
	var record Output
	if err := gate.GetNormalized(context.Background(), LayerPostprocessing, &record); err != nil {
		t.Errorf("postprocessing layer normalized payload: %v", err)
	}
}

func TestProcessDeterministic(t *testing.T) {
	p := New(Options{RunID: "test-run"})
	ctx := context.Background()

	a, err := p.Process(ctx, fixtureLLMOutput, fixtureCandidates(), fixtureDocument(),
		triage.NewPipelineVersion(42, "test"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Process(ctx, fixtureLLMOutput, fixtureCandidates(), fixtureDocument(),
		triage.NewPipelineVersion(42, "test"))
	if err != nil {
		t.Fatal(err)
	}

	// Everything except run-scoped fields (obs ids, timestamps, duration)
	// must be identical.
	if !reflect.DeepEqual(a.Triage, b.Triage) {
		t.Errorf("triage sections differ:\n%+v\n%+v", a.Triage, b.Triage)
	}
	if !reflect.DeepEqual(a.Entities, b.Entities) {
		t.Errorf("entities differ")
	}
	if !reflect.DeepEqual(a.Diagnostics, b.Diagnostics) {
		t.Errorf("diagnostics differ:\n%v\n%v", a.Diagnostics, b.Diagnostics)
	}
	if len(a.Observations) != len(b.Observations) {
		t.Errorf("observation counts differ")
	}
}

func TestProcessInvalidJSON(t *testing.T) {
	p := New(Options{})
	_, err := p.Process(context.Background(), "INVALID JSON {{{", fixtureCandidates(),
		fixtureDocument(), triage.NewPipelineVersion(1, "test"))
	if err == nil || !strings.Contains(err.Error(), "LLM output validation failed") {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestProcessInventedReferenceBlocked(t *testing.T) {
	store := barrier.NewMemoryKV()
	p := New(Options{Store: store, RunID: "test-run"})

	bad := strings.Replace(fixtureLLMOutput, `"candidateid": "C002"`, `"candidateid": "INVENTED_999"`, 1)
	_, err := p.Process(context.Background(), bad, fixtureCandidates(),
		fixtureDocument(), triage.NewPipelineVersion(1, "test"))

	var blocked *barrier.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want wrapped *barrier.BlockedError", err)
	}
	if blocked.Layer != LayerValidation {
		t.Errorf("blocked layer = %q", blocked.Layer)
	}
	found := false
	for _, e := range blocked.Errors {
		if e == "Invented candidateid: INVENTED_999" {
			found = true
		}
	}
	if !found {
		t.Errorf("blocked errors = %v", blocked.Errors)
	}

	// The barrier keeps the audit trail but never a normalized payload.
	ctx := context.Background()
	gate := barrier.New(store, "test-run", "int-test-001@example.it")
	var raw map[string]any
	if err := gate.GetRaw(ctx, LayerValidation, &raw); err != nil {
		t.Errorf("raw payload missing after rejection: %v", err)
	}
	var record map[string]any
	if err := gate.GetError(ctx, LayerValidation, &record); err != nil {
		t.Errorf("error record missing after rejection: %v", err)
	}
	if err := gate.GetNormalized(ctx, LayerValidation, &raw); !errors.Is(err, barrier.ErrNotFound) {
		t.Errorf("normalized payload written after rejection: %v", err)
	}
}

func TestProcessEvidencePolicyWarnsOnly(t *testing.T) {
	p := New(Options{})
	bad := strings.Replace(fixtureLLMOutput,
		"confermare i dati del contratto", "frase inventata di sana pianta", 1)
	bad = strings.Replace(bad, "fattura da saldare", "altra frase mai scritta", 1)

	out, err := p.Process(context.Background(), bad, fixtureCandidates(),
		fixtureDocument(), triage.NewPipelineVersion(1, "test"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !containsString(out.Diagnostics.Warnings, "Evidence policy failed: retry recommended") {
		t.Errorf("warnings = %v, want evidence policy warning", out.Diagnostics.Warnings)
	}
	if out.Metadata.SpanNotFoundCount != 2 {
		t.Errorf("span not_found count = %d, want 2", out.Metadata.SpanNotFoundCount)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

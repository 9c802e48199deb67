// Package validate implements the multi-stage validation pipeline that turns
// untrusted LLM classification output into a typed, normalized triage record.
//
// Stage order matters. Alias normalization and echo-field stripping run before
// schema validation because they repair cosmetic LLM variance that is expected
// behaviour, not an error. Schema and business-rule violations are fatal;
// evidence and quality findings are warnings that always surface to the
// caller.
package validate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/inboxlab/triage/internal/span"
	"github.com/inboxlab/triage/internal/taxonomy"
	"github.com/inboxlab/triage/internal/triage"
)

// knownEchoFields are candidate fields the LLM naturally mirrors back from
// the prompt. Stripping them is silent; anything else gets a warning.
var knownEchoFields = map[string]struct{}{
	"candidateid":    {},
	"lemma":          {},
	"count":          {},
	"term":           {},
	"source":         {},
	"embeddingscore": {},
}

var sentimentValues = map[string]struct{}{
	"positive": {}, "neutral": {}, "negative": {},
}

var priorityValues = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "urgent": {},
}

// Pipeline validates raw LLM output against the trusted candidate catalog and
// canonical text. The zero value is not usable; construct with New.
type Pipeline struct {
	// AllowedTopics overrides the taxonomy for business-rule checks.
	AllowedTopics []string

	// MinConfidenceWarning is the threshold below which a topic confidence
	// draws a quality warning.
	MinConfidenceWarning float64

	Logger *slog.Logger
}

// New returns a validation pipeline bound to the full topic taxonomy.
func New() *Pipeline {
	return &Pipeline{
		AllowedTopics:        taxonomy.Topics,
		MinConfidenceWarning: taxonomy.MinConfidenceWarning,
		Logger:               slog.Default(),
	}
}

// Wire-format types. Pointer fields distinguish "absent" from zero values so
// required-field checks are exact.

type rawOutput struct {
	DictionaryVersion *int         `json:"dictionaryversion"`
	Sentiment         *rawScored   `json:"sentiment"`
	Priority          *rawPriority `json:"priority"`
	Topics            []rawTopic   `json:"topics"`
}

type rawScored struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type rawPriority struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
	Signals    []string `json:"signals"`
}

type rawTopic struct {
	LabelID    *string                      `json:"labelid"`
	Confidence *float64                     `json:"confidence"`
	Keywords   []map[string]json.RawMessage `json:"keywordsintext"`
	Evidence   []rawEvidence                `json:"evidence"`
}

type rawEvidence struct {
	Quote *string `json:"quote"`
	Span  []int   `json:"span"`
}

// Validate runs the full stage sequence against raw, which may be a JSON
// string, []byte, json.RawMessage, or an already-decoded map. The input is
// never mutated. Errors make the result invalid; warnings never do.
func (p *Pipeline) Validate(raw any, catalog *triage.Catalog, textCanonical string) triage.ValidationResult {
	var errors, warnings []string

	// Stage 1: parse.
	out, err := decode(raw)
	if err != nil {
		errors = append(errors, fmt.Sprintf("Invalid JSON: %v", err))
		return triage.ValidationResult{Valid: false, Errors: errors, Warnings: warnings}
	}

	// Stage 1b: alias normalization + echo-field stripping, before schema.
	refs := normalizeTopics(out, &warnings)

	// Stage 2: closed-schema structural validation. First violation is fatal.
	if msg := checkSchema(out); msg != "" {
		errors = append(errors, "Schema violation: "+msg)
		return triage.ValidationResult{Valid: false, Errors: errors, Warnings: warnings}
	}

	// Stage 3: business rules. All violations are collected, then fatal.
	for ti, topic := range out.Topics {
		if !contains(p.AllowedTopics, *topic.LabelID) {
			errors = append(errors, fmt.Sprintf("Invalid labelid: %s", *topic.LabelID))
		}
		for _, ref := range refs[ti] {
			if !catalog.Has(ref.CandidateID) {
				errors = append(errors, fmt.Sprintf("Invented candidateid: %s", ref.CandidateID))
			}
		}
	}

	data := build(out, refs)

	// Stage 4: evidence verification. Failures are warnings; span
	// enrichment later recomputes every span authoritatively.
	warnings = append(warnings, span.VerifyEvidence(data.Topics, textCanonical)...)

	// Stage 5: quality warnings.
	for _, topic := range data.Topics {
		if topic.Confidence < p.MinConfidenceWarning {
			warnings = append(warnings, fmt.Sprintf("Very low confidence for %s: %g", topic.LabelID, topic.Confidence))
		}
		if len(topic.Refs) == 0 {
			warnings = append(warnings, fmt.Sprintf("No keywords for topic %s", topic.LabelID))
		}
		if len(topic.Evidence) == 0 {
			warnings = append(warnings, fmt.Sprintf("No evidence for topic %s", topic.LabelID))
		}
	}

	// Stage 6: deduplication + clamping.
	deduplicateAndClamp(data)

	if len(errors) > 0 {
		p.Logger.Warn("llm output rejected", "errors", errors)
		return triage.ValidationResult{Valid: false, Errors: errors, Warnings: warnings}
	}
	return triage.ValidationResult{Valid: true, Warnings: warnings, Data: data}
}

func decode(raw any) (*rawOutput, error) {
	var buf []byte
	switch v := raw.(type) {
	case string:
		buf = []byte(v)
	case []byte:
		buf = v
	case json.RawMessage:
		buf = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf = b
	default:
		return nil, fmt.Errorf("unsupported input type %T", raw)
	}
	var out rawOutput
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// normalizeTopics resolves labelid aliases and strips echoed candidate fields
// down to bare references. Returns per-topic reference lists aligned with
// out.Topics.
func normalizeTopics(out *rawOutput, warnings *[]string) [][]triage.EchoKeyword {
	refs := make([][]triage.EchoKeyword, len(out.Topics))
	for ti := range out.Topics {
		topic := &out.Topics[ti]

		if topic.LabelID != nil {
			if canonical := taxonomy.Canonical(*topic.LabelID); canonical != *topic.LabelID {
				*warnings = append(*warnings, fmt.Sprintf(
					"labelid alias resolved: '%s' → '%s'", *topic.LabelID, canonical))
				topic.LabelID = &canonical
			}
		}

		for _, kw := range topic.Keywords {
			var unexpected []string
			for field := range kw {
				if _, known := knownEchoFields[field]; !known {
					unexpected = append(unexpected, field)
				}
			}
			ref := triage.EchoKeyword{CandidateID: "?"}
			if idRaw, ok := kw["candidateid"]; ok {
				var id string
				if json.Unmarshal(idRaw, &id) == nil {
					ref.CandidateID = id
				}
			}
			if len(unexpected) > 0 {
				sort.Strings(unexpected)
				*warnings = append(*warnings, fmt.Sprintf(
					"keywordsintext: stripped unexpected fields %v from candidate '%s'",
					unexpected, ref.CandidateID))
			}
			if countRaw, ok := kw["count"]; ok {
				var count int
				if json.Unmarshal(countRaw, &count) == nil {
					ref.EchoCount = &count
				}
			}
			refs[ti] = append(refs[ti], ref)
		}
	}
	return refs
}

// checkSchema enforces the closed response schema. Returns the first
// violation message, or "" when the structure conforms.
func checkSchema(out *rawOutput) string {
	if out.DictionaryVersion == nil {
		return "'dictionaryversion' is a required property"
	}
	if out.Sentiment == nil {
		return "'sentiment' is a required property"
	}
	if out.Sentiment.Value == nil {
		return "sentiment: 'value' is a required property"
	}
	if _, ok := sentimentValues[*out.Sentiment.Value]; !ok {
		return fmt.Sprintf("sentiment.value: '%s' is not one of [positive, neutral, negative]", *out.Sentiment.Value)
	}
	if out.Sentiment.Confidence == nil {
		return "sentiment: 'confidence' is a required property"
	}
	if *out.Sentiment.Confidence < 0 || *out.Sentiment.Confidence > 1 {
		return fmt.Sprintf("sentiment.confidence: %g is not in range [0, 1]", *out.Sentiment.Confidence)
	}
	if out.Priority == nil {
		return "'priority' is a required property"
	}
	if out.Priority.Value == nil {
		return "priority: 'value' is a required property"
	}
	if _, ok := priorityValues[*out.Priority.Value]; !ok {
		return fmt.Sprintf("priority.value: '%s' is not one of [low, medium, high, urgent]", *out.Priority.Value)
	}
	if out.Priority.Confidence == nil {
		return "priority: 'confidence' is a required property"
	}
	if *out.Priority.Confidence < 0 || *out.Priority.Confidence > 1 {
		return fmt.Sprintf("priority.confidence: %g is not in range [0, 1]", *out.Priority.Confidence)
	}
	if len(out.Priority.Signals) > taxonomy.MaxPrioritySignals {
		return fmt.Sprintf("priority.signals: %d items exceeds maximum of %d", len(out.Priority.Signals), taxonomy.MaxPrioritySignals)
	}
	if len(out.Topics) == 0 {
		return "'topics' must contain at least 1 item"
	}
	if len(out.Topics) > taxonomy.MaxTopics {
		return fmt.Sprintf("'topics': %d items exceeds maximum of %d", len(out.Topics), taxonomy.MaxTopics)
	}
	for i, topic := range out.Topics {
		if topic.LabelID == nil {
			return fmt.Sprintf("topics[%d]: 'labelid' is a required property", i)
		}
		if topic.Confidence == nil {
			return fmt.Sprintf("topics[%d]: 'confidence' is a required property", i)
		}
		if *topic.Confidence < 0 || *topic.Confidence > 1 {
			return fmt.Sprintf("topics[%d].confidence: %g is not in range [0, 1]", i, *topic.Confidence)
		}
		if len(topic.Keywords) == 0 {
			return fmt.Sprintf("topics[%d]: 'keywordsintext' must contain at least 1 item", i)
		}
		if len(topic.Keywords) > taxonomy.MaxKeywordsPerTopic {
			return fmt.Sprintf("topics[%d].keywordsintext: %d items exceeds maximum of %d", i, len(topic.Keywords), taxonomy.MaxKeywordsPerTopic)
		}
		for j, kw := range topic.Keywords {
			idRaw, ok := kw["candidateid"]
			if !ok {
				return fmt.Sprintf("topics[%d].keywordsintext[%d]: 'candidateid' is a required property", i, j)
			}
			var id string
			if err := json.Unmarshal(idRaw, &id); err != nil || id == "" {
				return fmt.Sprintf("topics[%d].keywordsintext[%d]: 'candidateid' must be a non-empty string", i, j)
			}
		}
		if len(topic.Evidence) == 0 {
			return fmt.Sprintf("topics[%d]: 'evidence' must contain at least 1 item", i)
		}
		if len(topic.Evidence) > taxonomy.MaxEvidencePerTopic {
			return fmt.Sprintf("topics[%d].evidence: %d items exceeds maximum of %d", i, len(topic.Evidence), taxonomy.MaxEvidencePerTopic)
		}
		for j, ev := range topic.Evidence {
			if ev.Quote == nil {
				return fmt.Sprintf("topics[%d].evidence[%d]: 'quote' is a required property", i, j)
			}
			if len(*ev.Quote) > taxonomy.MaxQuoteLength {
				return fmt.Sprintf("topics[%d].evidence[%d].quote: %d chars exceeds maximum of %d", i, j, len(*ev.Quote), taxonomy.MaxQuoteLength)
			}
			if ev.Span != nil {
				if len(ev.Span) != 2 {
					return fmt.Sprintf("topics[%d].evidence[%d].span: must contain exactly 2 integers", i, j)
				}
				if ev.Span[0] >= ev.Span[1] {
					return fmt.Sprintf("topics[%d].evidence[%d].span: start must be less than end", i, j)
				}
			}
		}
	}
	return ""
}

// build converts the validated wire form into the typed model, attaching the
// stripped keyword references produced by normalization.
func build(out *rawOutput, refs [][]triage.EchoKeyword) *triage.Triage {
	data := &triage.Triage{
		DictionaryVersion: *out.DictionaryVersion,
		Sentiment: triage.Sentiment{
			Value:      *out.Sentiment.Value,
			Confidence: *out.Sentiment.Confidence,
		},
		Priority: triage.Priority{
			Value:      *out.Priority.Value,
			Confidence: *out.Priority.Confidence,
			Signals:    out.Priority.Signals,
		},
	}
	for ti, rt := range out.Topics {
		topic := &triage.Topic{
			LabelID:    *rt.LabelID,
			Confidence: *rt.Confidence,
			Refs:       refs[ti],
		}
		for _, ev := range rt.Evidence {
			topic.Evidence = append(topic.Evidence, &triage.Evidence{
				Quote: *ev.Quote,
				Span:  ev.Span,
			})
		}
		data.Topics = append(data.Topics, topic)
	}
	return data
}

// deduplicateAndClamp removes duplicate topics by labelid and duplicate
// keyword references by candidateid (first occurrence wins, order preserved),
// then clamps every confidence into [0,1].
func deduplicateAndClamp(data *triage.Triage) {
	seenLabels := map[string]struct{}{}
	topics := data.Topics[:0]
	for _, topic := range data.Topics {
		if _, dup := seenLabels[topic.LabelID]; dup {
			continue
		}
		seenLabels[topic.LabelID] = struct{}{}
		topics = append(topics, topic)
	}
	data.Topics = topics

	for _, topic := range data.Topics {
		seenIDs := map[string]struct{}{}
		refs := topic.Refs[:0]
		for _, ref := range topic.Refs {
			if _, dup := seenIDs[ref.CandidateID]; dup {
				continue
			}
			seenIDs[ref.CandidateID] = struct{}{}
			refs = append(refs, ref)
		}
		topic.Refs = refs
		topic.Confidence = clamp01(topic.Confidence)
	}

	data.Sentiment.Confidence = clamp01(data.Sentiment.Confidence)
	data.Priority.Confidence = clamp01(data.Priority.Confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

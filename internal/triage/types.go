// Package triage defines the typed data model shared across the
// post-processing pipeline: trusted candidate keywords, the validated triage
// record, and the enrichment artifacts built on top of it.
//
// The central distinction is trust. A Candidate comes from the deterministic
// extraction layer and is authoritative. An EchoKeyword comes from the LLM and
// carries nothing but a reference to a candidate; every other field the model
// echoed back is discarded during resolution and repopulated from the catalog.
package triage

import (
	"fmt"
	"strings"
)

// SpanStatus records how an evidence span was resolved against the canonical
// text.
type SpanStatus string

const (
	SpanExactMatch SpanStatus = "exact_match"
	SpanFuzzyMatch SpanStatus = "fuzzy_match"
	SpanNotFound   SpanStatus = "not_found"
)

// Candidate is one trusted keyword candidate produced upstream of the LLM.
type Candidate struct {
	CandidateID    string  `json:"candidateid"`
	Term           string  `json:"term"`
	Lemma          string  `json:"lemma"`
	Count          int     `json:"count"`
	Source         string  `json:"source"`
	EmbeddingScore float64 `json:"embeddingscore"`
	Score          float64 `json:"score"`
}

// Quality returns the candidate's precomputed quality score, falling back to
// the embedding score when no explicit score was assigned.
func (c *Candidate) Quality() float64 {
	if c.Score > 0 {
		return c.Score
	}
	return c.EmbeddingScore
}

// Catalog indexes candidates by id for O(1) membership checks during
// validation and resolution. Build one per request.
type Catalog struct {
	byID  map[string]*Candidate
	order []*Candidate
}

// NewCatalog builds a catalog from the candidate list. Later duplicates of the
// same candidateid are ignored.
func NewCatalog(candidates []Candidate) *Catalog {
	c := &Catalog{byID: make(map[string]*Candidate, len(candidates))}
	for i := range candidates {
		cand := candidates[i]
		if _, seen := c.byID[cand.CandidateID]; seen {
			continue
		}
		p := &cand
		c.byID[cand.CandidateID] = p
		c.order = append(c.order, p)
	}
	return c
}

// Get returns the candidate for id, if present.
func (c *Catalog) Get(id string) (*Candidate, bool) {
	cand, ok := c.byID[id]
	return cand, ok
}

// Has reports whether id is a known candidate.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len returns the number of distinct candidates.
func (c *Catalog) Len() int { return len(c.order) }

// All returns candidates in first-seen order.
func (c *Catalog) All() []*Candidate { return c.order }

// EchoKeyword is the untrusted keyword reference as emitted by the LLM. Only
// CandidateID crosses the trust boundary. EchoCount is kept solely to detect
// drift against the catalog; it is never copied into output.
type EchoKeyword struct {
	CandidateID string
	EchoCount   *int
}

// Keyword is a catalog-resolved keyword: every field authoritative, populated
// from the matching Candidate.
type Keyword struct {
	CandidateID    string  `json:"candidateid"`
	Term           string  `json:"term"`
	Lemma          string  `json:"lemma"`
	Count          int     `json:"count"`
	Source         string  `json:"source"`
	EmbeddingScore float64 `json:"embeddingscore"`
}

// Evidence is one supporting quote for a topic. Span is the server-computed
// byte span into the canonical text (nil when unresolved); SpanLLM preserves
// whatever the model claimed, for audit only.
type Evidence struct {
	Quote      string     `json:"quote"`
	Span       []int      `json:"span"`
	SpanLLM    []int      `json:"span_llm,omitempty"`
	SpanStatus SpanStatus `json:"span_status,omitempty"`
	TextHash   string     `json:"text_hash,omitempty"`
}

// Topic is one classified topic. Confidence mirrors ConfidenceAdjusted after
// adjustment; ConfidenceLLM preserves the model's original value.
type Topic struct {
	LabelID            string      `json:"labelid"`
	ConfidenceLLM      float64     `json:"confidence_llm"`
	ConfidenceAdjusted float64     `json:"confidence_adjusted"`
	Confidence         float64     `json:"confidence"`
	Refs               []EchoKeyword `json:"-"`
	Keywords           []Keyword     `json:"keywords"`
	Evidence           []*Evidence   `json:"evidence"`
}

// Sentiment is the LLM's sentiment classification.
type Sentiment struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Priority is a priority classification, either echoed from the LLM or
// recomputed by the rule scorer.
type Priority struct {
	Value      string   `json:"value"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals"`
	RawScore   float64  `json:"rawscore,omitempty"`
}

// CustomerStatus is the deterministic sender classification.
type CustomerStatus struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Triage is the validated LLM classification record.
type Triage struct {
	DictionaryVersion int       `json:"dictionaryversion"`
	Sentiment         Sentiment `json:"sentiment"`
	Priority          Priority  `json:"priority"`
	Topics            []*Topic  `json:"topics"`
}

// ValidationResult carries the outcome of the validation pipeline. Data is
// populated only when Valid.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Data     *Triage
}

// PipelineVersion pins every versioned component that produced a record.
type PipelineVersion struct {
	DictionaryVersion int    `json:"dictionaryversion"`
	ModelVersion      string `json:"modelversion"`
	ModelType         string `json:"model_type"`
	ParserVersion     string `json:"parserversion"`
	StoplistVersion   string `json:"stoplistversion"`
	NERModelVersion   string `json:"nermodelversion"`
	SchemaVersion     string `json:"schemaversion"`
}

// NewPipelineVersion builds a PipelineVersion with current component defaults.
func NewPipelineVersion(dictVersion int, modelVersion string) PipelineVersion {
	return PipelineVersion{
		DictionaryVersion: dictVersion,
		ModelVersion:      modelVersion,
		ModelType:         "chat",
		ParserVersion:     "parser-v1",
		StoplistVersion:   "stoplist-v1",
		NERModelVersion:   "ner-v1",
		SchemaVersion:     "triage-v1",
	}
}

// EmailDocument is the canonicalized input email.
type EmailDocument struct {
	MessageID               string `json:"message_id"`
	FromRaw                 string `json:"from_raw"`
	Subject                 string `json:"subject"`
	Body                    string `json:"body"`
	BodyCanonical           string `json:"body_canonical"`
	ParserVersion           string `json:"parserversion,omitempty"`
	CanonicalizationVersion string `json:"canonicalization_version,omitempty"`
}

// FromEmail extracts the bare address from FromRaw, handling the
// "Name <addr>" display form.
func (d EmailDocument) FromEmail() string {
	raw := d.FromRaw
	if i := strings.IndexByte(raw, '<'); i >= 0 {
		if j := strings.IndexByte(raw[i:], '>'); j > 0 {
			return raw[i+1 : i+j]
		}
	}
	return strings.TrimSpace(raw)
}

// Observation is one append-only (topic, keyword) co-occurrence fact used for
// future dictionary promotion.
type Observation struct {
	ObsID            string  `json:"obs_id"`
	MessageID        string  `json:"message_id"`
	LabelID          string  `json:"labelid"`
	CandidateID      string  `json:"candidateid"`
	Lemma            string  `json:"lemma"`
	Term             string  `json:"term"`
	Count            int     `json:"count"`
	EmbeddingScore   float64 `json:"embeddingscore"`
	DictVersion      int     `json:"dict_version"`
	PromotedToActive bool    `json:"promoted_to_active"`
	ObservedAt       string  `json:"observed_at"`
}

// InventedReferenceError is returned when the LLM referenced a candidateid
// that does not exist in the trusted catalog.
type InventedReferenceError struct {
	CandidateID string
}

func (e *InventedReferenceError) Error() string {
	return fmt.Sprintf("invented candidateid %q: not present in candidate catalog", e.CandidateID)
}

// Package pipeline orchestrates post-processing and enrichment of one email
// classification: validation, keyword resolution, customer status, priority,
// confidence adjustment, span enrichment, entity extraction, and observation
// building, assembled into a single output record.
//
// All stages are synchronous. The validation stage and the final record both
// pass through the write barrier, so a rejected classification leaves an
// audit trail and nothing else.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inboxlab/triage/internal/barrier"
	"github.com/inboxlab/triage/internal/confidence"
	"github.com/inboxlab/triage/internal/customer"
	"github.com/inboxlab/triage/internal/entities"
	"github.com/inboxlab/triage/internal/metrics"
	"github.com/inboxlab/triage/internal/observations"
	"github.com/inboxlab/triage/internal/priority"
	"github.com/inboxlab/triage/internal/span"
	"github.com/inboxlab/triage/internal/triage"
	"github.com/inboxlab/triage/internal/validate"
)

// Layer names used for barrier keys.
const (
	LayerValidation     = "llm_triage"
	LayerPostprocessing = "postprocessing"
)

// TriageSection is the triage block of the output record.
type TriageSection struct {
	Topics         []*triage.Topic       `json:"topics"`
	Sentiment      triage.Sentiment      `json:"sentiment"`
	Priority       triage.Priority       `json:"priority"`
	CustomerStatus triage.CustomerStatus `json:"customerstatus"`
}

// Diagnostics surfaces everything non-fatal the pipeline noticed.
type Diagnostics struct {
	Warnings          []string `json:"warnings"`
	Errors            []string `json:"errors"`
	ValidationRetries int      `json:"validation_retries"`
	FallbackApplied   bool     `json:"fallback_applied"`
}

// Metadata describes the processing run itself.
type Metadata struct {
	DurationMS          int64 `json:"postprocessing_duration_ms"`
	EntitiesExtracted   int   `json:"entities_extracted"`
	ObservationsCreated int   `json:"observations_created"`
	ConfidenceAdjusted  int   `json:"confidence_adjustments_applied"`
	SpanExactMatchCount int   `json:"span_exact_match_count"`
	SpanFuzzyMatchCount int   `json:"span_fuzzy_match_count"`
	SpanNotFoundCount   int   `json:"span_not_found_count"`
}

// Output is the complete enriched record for one email.
type Output struct {
	MessageID       string                 `json:"message_id"`
	PipelineVersion triage.PipelineVersion `json:"pipeline_version"`
	Triage          TriageSection          `json:"triage"`
	Entities        []entities.Entity      `json:"entities"`
	Observations    []triage.Observation   `json:"observations"`
	Diagnostics     Diagnostics            `json:"diagnostics"`
	Metadata        Metadata               `json:"processing_metadata"`
}

// Options configures a Pipeline. Zero-value fields get working defaults.
type Options struct {
	CRMLookup         customer.Lookup
	Scorer            *priority.Scorer
	Collisions        confidence.CollisionIndex
	Spans             *span.Resolver
	Extractor         *entities.Engine
	EvidenceThreshold float64
	Store             barrier.KV
	RunID             string
	Metrics           metrics.Metrics
	Logger            *slog.Logger
}

// Pipeline runs the full post-processing flow. Construct with New; safe for
// reuse across messages.
type Pipeline struct {
	validator *validate.Pipeline
	adjuster  *confidence.Adjuster
	opts      Options
}

// New builds a pipeline, filling unset options with defaults: mock CRM,
// default priority weights, empty collision index, default span resolver and
// extraction engine, no persistence, no metrics.
func New(opts Options) *Pipeline {
	if opts.CRMLookup == nil {
		opts.CRMLookup = customer.MockLookup
	}
	if opts.Scorer == nil {
		opts.Scorer = priority.NewScorer(priority.DefaultWeights())
	}
	if opts.Collisions == nil {
		opts.Collisions = confidence.EmptyCollisionIndex{}
	}
	if opts.Spans == nil {
		opts.Spans = span.NewResolver()
	}
	if opts.Extractor == nil {
		opts.Extractor = entities.NewEngine()
	}
	if opts.EvidenceThreshold == 0 {
		opts.EvidenceThreshold = span.DefaultEvidenceFailureThreshold
	}
	if opts.Store == nil {
		opts.Store = barrier.NullKV{}
	}
	if opts.RunID == "" {
		opts.RunID = time.Now().UTC().Format("20060102T150405Z")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		validator: validate.New(),
		adjuster:  confidence.NewAdjuster(),
		opts:      opts,
	}
}

// Process runs the full flow for one message. rawLLMOutput may be a JSON
// string, []byte, json.RawMessage, or a decoded map. A validation rejection
// returns an error wrapping *barrier.BlockedError.
func (p *Pipeline) Process(
	ctx context.Context,
	rawLLMOutput any,
	candidates []triage.Candidate,
	document triage.EmailDocument,
	version triage.PipelineVersion,
) (*Output, error) {
	start := time.Now()
	catalog := triage.NewCatalog(candidates)
	gate := barrier.New(p.opts.Store, p.opts.RunID, document.MessageID)
	gate.Logger = p.opts.Logger
	gate.Metrics = p.opts.Metrics

	// Stage 1: validation, gated. The raw LLM output is persisted for
	// audit before validation runs; a rejection writes the error record
	// and blocks everything downstream.
	var result triage.ValidationResult
	_, err := barrier.Process(ctx, gate, LayerValidation, rawLLMOutput,
		func(_ context.Context, input any) (json.RawMessage, error) {
			return canonicalJSON(input)
		},
		func(raw json.RawMessage) barrier.Outcome {
			result = p.validator.Validate(raw, catalog, document.BodyCanonical)
			return barrier.Outcome{Valid: result.Valid, Errors: result.Errors, Warnings: result.Warnings}
		},
		func(json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(result.Data)
		},
	)
	if err != nil {
		for range result.Errors {
			p.opts.Metrics.IncrementCounter(metrics.ValidationErrorsTotal,
				map[string]string{"layer": LayerValidation})
		}
		return nil, fmt.Errorf("LLM output validation failed: %w", err)
	}
	data := result.Data
	warnings := result.Warnings

	// Evidence policy: a failing record is a retry signal for the caller,
	// never an abort.
	if !span.EnforceEvidencePolicy(data.Topics, document.BodyCanonical, p.opts.EvidenceThreshold) {
		p.opts.Logger.Warn("evidence policy failed, retry recommended",
			"message_id", document.MessageID)
		warnings = append(warnings, "Evidence policy failed: retry recommended")
	}

	// Stages 2-7 run as one gated enrichment layer over the validated data.
	output, err := barrier.Process(ctx, gate, LayerPostprocessing, data,
		func(ctx context.Context, data *triage.Triage) (*Output, error) {
			return p.enrich(ctx, data, catalog, document, version, warnings, start)
		},
		validateOutput,
		nil,
	)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// enrich runs every post-validation stage and assembles the output record.
func (p *Pipeline) enrich(
	ctx context.Context,
	data *triage.Triage,
	catalog *triage.Catalog,
	document triage.EmailDocument,
	version triage.PipelineVersion,
	warnings []string,
	start time.Time,
) (*Output, error) {
	// Stage 2: keyword resolution. Every keyword field is repopulated from
	// the trusted catalog.
	resolveWarnings, err := triage.ResolveKeywords(data, catalog)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, resolveWarnings...)

	// Stage 3: customer status, deterministic.
	status := customer.Compute(ctx, document.FromEmail(), document.BodyCanonical, p.opts.CRMLookup)

	// Stage 4: priority, rule-based.
	prio := p.opts.Scorer.Score(document.Subject, document.BodyCanonical,
		data.Sentiment.Value, status.Value, false)

	// Stage 5: confidence adjustment.
	p.adjuster.AdjustAll(data, catalog, p.opts.Collisions)

	// Stage 6: span enrichment. Spans are recomputed server-side, which
	// also retires any stale LLM-span findings from validation.
	p.opts.Spans.EnrichEvidence(data.Topics, document.BodyCanonical)
	warnings = dropStaleSpanWarnings(warnings)

	exact, fuzzy, notFound := 0, 0, 0
	for _, topic := range data.Topics {
		for _, ev := range topic.Evidence {
			switch ev.SpanStatus {
			case triage.SpanExactMatch:
				exact++
			case triage.SpanFuzzyMatch:
				fuzzy++
			case triage.SpanNotFound:
				notFound++
			}
			p.opts.Metrics.IncrementCounter(metrics.SpanStatusTotal,
				map[string]string{"status": string(ev.SpanStatus)})
		}
	}

	// Stage 7: entity extraction, document-level.
	found, extractWarnings := p.opts.Extractor.ExtractAll(ctx, document.BodyCanonical)
	warnings = append(warnings, extractWarnings...)

	// Stage 8: observations + assembly.
	obs := observations.Build(document.MessageID, data.Topics, catalog, version.DictionaryVersion)

	elapsed := time.Since(start)
	p.opts.Metrics.ObserveHistogram(metrics.LayerSeconds, elapsed.Seconds(),
		map[string]string{"layer": LayerPostprocessing})
	p.opts.Metrics.SetGauge(metrics.EntitiesExtracted, float64(len(found)), nil)

	return &Output{
		MessageID:       document.MessageID,
		PipelineVersion: version,
		Triage: TriageSection{
			Topics:         data.Topics,
			Sentiment:      data.Sentiment,
			Priority:       prio,
			CustomerStatus: status,
		},
		Entities:     found,
		Observations: obs,
		Diagnostics: Diagnostics{
			Warnings: warnings,
			Errors:   []string{},
		},
		Metadata: Metadata{
			DurationMS:          elapsed.Milliseconds(),
			EntitiesExtracted:   len(found),
			ObservationsCreated: len(obs),
			ConfidenceAdjusted:  len(data.Topics),
			SpanExactMatchCount: exact,
			SpanFuzzyMatchCount: fuzzy,
			SpanNotFoundCount:   notFound,
		},
	}, nil
}

// validateOutput is the barrier validator for the assembled record: the
// invariants every consumer may rely on.
func validateOutput(out *Output) barrier.Outcome {
	var errs []string
	if out.MessageID == "" {
		errs = append(errs, "output missing message_id")
	}
	for _, topic := range out.Triage.Topics {
		if topic.Confidence != topic.ConfidenceAdjusted {
			errs = append(errs, fmt.Sprintf("topic %s: confidence diverges from adjusted value", topic.LabelID))
		}
		if topic.Confidence < 0 || topic.Confidence > 1 {
			errs = append(errs, fmt.Sprintf("topic %s: confidence out of range", topic.LabelID))
		}
		for _, ev := range topic.Evidence {
			if ev.SpanStatus == "" || ev.TextHash == "" {
				errs = append(errs, fmt.Sprintf("topic %s: evidence missing span enrichment", topic.LabelID))
			}
		}
	}
	return barrier.Outcome{Valid: len(errs) == 0, Errors: errs}
}

// dropStaleSpanWarnings removes span findings that referred to LLM-supplied
// spans, which enrichment has since replaced with server-computed ones.
func dropStaleSpanWarnings(warnings []string) []string {
	kept := warnings[:0]
	for _, w := range warnings {
		if strings.HasPrefix(w, "Span mismatch:") || strings.HasPrefix(w, "Span out of bounds:") {
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

func canonicalJSON(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case string:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

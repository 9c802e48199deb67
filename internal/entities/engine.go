package entities

import (
	"context"
	"fmt"
	"log/slog"
)

// Engine runs the full extraction pipeline over a document: regex, NER,
// gazetteer, then the deterministic merge.
type Engine struct {
	regex     RegexLexicon
	gazetteer Gazetteer
	ner       Adapter
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegexLexicon replaces the default regex patterns.
func WithRegexLexicon(lex RegexLexicon) EngineOption {
	return func(e *Engine) { e.regex = lex }
}

// WithGazetteer sets the gazetteer. Without one the lexicon pass is skipped.
func WithGazetteer(g Gazetteer) EngineOption {
	return func(e *Engine) { e.gazetteer = g }
}

// WithNER sets the NER adapter. Without one the NER pass is skipped.
func WithNER(a Adapter) EngineOption {
	return func(e *Engine) { e.ner = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an extraction engine. By default it carries the built-in
// regex lexicon, no gazetteer, and no NER adapter.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		regex:  DefaultRegexLexicon(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractAll runs every configured pass and merges the results. A failing or
// absent NER adapter degrades to an empty NER contribution; it never fails
// the extraction. Warnings report skipped patterns and collaborator failures.
func (e *Engine) ExtractAll(ctx context.Context, text string) ([]Entity, []string) {
	found, warnings := ExtractRegex(text, e.regex)

	if e.ner != nil {
		nerEntities, err := e.ner.Extract(ctx, text)
		if err != nil {
			e.logger.Warn("ner extraction failed, continuing without it", "error", err)
			warnings = append(warnings, fmt.Sprintf("NER unavailable: %v", err))
		} else {
			for i := range nerEntities {
				nerEntities[i].Source = SourceNER
				if nerEntities[i].Confidence == 0 {
					nerEntities[i].Confidence = NERConfidence
				}
			}
			found = append(found, nerEntities...)
		}
	}

	if len(e.gazetteer) > 0 {
		found = append(found, ExtractGazetteer(text, e.gazetteer)...)
	}

	return Merge(found), warnings
}

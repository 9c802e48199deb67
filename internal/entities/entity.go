// Package entities implements document-level entity extraction: a
// high-precision regex pass, an optional NER pass behind a black-box adapter,
// a gazetteer pass, and a deterministic merge that resolves overlaps with
// fixed priority rules so the same text always yields the same entities.
package entities

import "context"

// Source identifies the extraction method that produced an entity.
type Source string

const (
	SourceRegex   Source = "regex"
	SourceNER     Source = "ner"
	SourceLexicon Source = "lexicon"
)

// Per-source confidence. Regex patterns are high precision, the gazetteer is
// curated, NER is recall-oriented.
const (
	RegexConfidence   = 0.95
	LexiconConfidence = 0.85
	NERConfidence     = 0.75
)

// sourcePriority orders sources for overlap resolution; lower wins. Unknown
// sources sort last.
var sourcePriority = map[Source]int{
	SourceRegex:   0,
	SourceLexicon: 1,
	SourceNER:     2,
}

func priorityOf(s Source) int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return 99
}

// Entity is one extracted span. Start and End are byte offsets into the text
// the entity was extracted from, with End exclusive.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Overlaps reports whether the two spans share at least one byte.
func (e Entity) Overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// SpanLength returns the span width in bytes.
func (e Entity) SpanLength() int { return e.End - e.Start }

// Adapter produces named entities from raw text. Implementations wrap an
// external model; the engine treats them as a black box and tolerates their
// absence and their failures.
type Adapter interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

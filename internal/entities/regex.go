package entities

import (
	"fmt"
	"regexp"
	"sort"
)

// RegexEntry is one pattern in the regex lexicon. Label defaults to the
// lexicon key the entry lives under.
type RegexEntry struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Label   string `yaml:"label" json:"label"`
}

// RegexLexicon maps an entity label to its patterns.
type RegexLexicon map[string][]RegexEntry

// DefaultRegexLexicon returns the built-in patterns for common Italian
// business entities.
func DefaultRegexLexicon() RegexLexicon {
	return RegexLexicon{
		"EMAIL": {
			{Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Label: "EMAIL"},
		},
		"CODICEFISCALE": {
			{Pattern: `\b[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\b`, Label: "CODICEFISCALE"},
		},
		"PARTITAIVA": {
			{Pattern: `\b(IT)?\d{11}\b`, Label: "PARTITAIVA"},
		},
		"IBAN": {
			{Pattern: `\b[A-Z]{2}\d{2}\s?[A-Z0-9]{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{3}\b`, Label: "IBAN"},
		},
		"TELEFONO": {
			{Pattern: `\b\+?\d{2,4}[\s.-]?\d{6,10}\b`, Label: "TELEFONO"},
		},
	}
}

// ExtractRegex runs every lexicon pattern over the text, case-insensitively.
// A pattern that fails to compile yields a warning and is skipped; it never
// aborts the pass. Lexicon keys are walked in sorted order so output is
// deterministic regardless of map iteration.
func ExtractRegex(text string, lexicon RegexLexicon) ([]Entity, []string) {
	var found []Entity
	var warnings []string

	labels := make([]string, 0, len(lexicon))
	for label := range lexicon {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, entityLabel := range labels {
		for _, entry := range lexicon[entityLabel] {
			label := entry.Label
			if label == "" {
				label = entityLabel
			}
			compiled, err := regexp.Compile("(?i)" + entry.Pattern)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid regex pattern '%s': %v", entry.Pattern, err))
				continue
			}
			for _, loc := range compiled.FindAllStringIndex(text, -1) {
				found = append(found, Entity{
					Text:       text[loc[0]:loc[1]],
					Label:      label,
					Start:      loc[0],
					End:        loc[1],
					Source:     SourceRegex,
					Confidence: RegexConfidence,
				})
			}
		}
	}
	return found, warnings
}

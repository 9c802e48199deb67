package entities

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// GazetteerEntry is one known term: a canonical lemma plus the surface forms
// it may appear under. An empty surface form list means the lemma itself.
type GazetteerEntry struct {
	Lemma        string   `yaml:"lemma" json:"lemma"`
	SurfaceForms []string `yaml:"surface_forms" json:"surface_forms"`
}

// Gazetteer groups entries by entity category. The category key is
// organizational only; matched entities are labeled with the entry's
// canonical lemma.
type Gazetteer map[string][]GazetteerEntry

// ExtractGazetteer scans the text for every surface form, case-insensitively,
// accepting only occurrences delimited by non-alphanumeric runes. Categories
// are walked in sorted order for deterministic output.
func ExtractGazetteer(text string, gazetteer Gazetteer) []Entity {
	var found []Entity
	lowerText := strings.ToLower(text)

	categories := make([]string, 0, len(gazetteer))
	for cat := range gazetteer {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		for _, entry := range gazetteer[cat] {
			forms := entry.SurfaceForms
			if len(forms) == 0 {
				forms = []string{entry.Lemma}
			}
			for _, form := range forms {
				lowerForm := strings.ToLower(form)
				if lowerForm == "" {
					continue
				}
				for pos := 0; pos < len(lowerText); {
					idx := strings.Index(lowerText[pos:], lowerForm)
					if idx < 0 {
						break
					}
					start := pos + idx
					end := start + len(lowerForm)
					if boundaryBefore(lowerText, start) && boundaryAfter(lowerText, end) {
						found = append(found, Entity{
							Text:       text[start : start+len(form)],
							Label:      entry.Lemma,
							Start:      start,
							End:        start + len(form),
							Source:     SourceLexicon,
							Confidence: LexiconConfidence,
						})
					}
					pos = start + 1
				}
			}
		}
	}
	return found
}

func boundaryBefore(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return !isAlnum(r)
}

func boundaryAfter(s string, pos int) bool {
	if pos >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[pos:])
	return !isAlnum(r)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

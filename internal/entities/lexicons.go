package entities

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LexiconFile is the on-disk format bundling regex patterns and gazetteer
// entries:
//
//	regex:
//	  EMAIL:
//	    - pattern: '\b[A-Za-z0-9._%+-]+@...'
//	      label: EMAIL
//	gazetteer:
//	  AZIENDA:
//	    - lemma: ACME
//	      surface_forms: [ACME, "ACME S.p.A."]
type LexiconFile struct {
	Regex     RegexLexicon `yaml:"regex"`
	Gazetteer Gazetteer    `yaml:"gazetteer"`
}

// LoadLexicons reads a YAML lexicon file.
func LoadLexicons(path string) (*LexiconFile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon file: %w", err)
	}
	var lf LexiconFile
	if err := yaml.Unmarshal(buf, &lf); err != nil {
		return nil, fmt.Errorf("parse lexicon file %s: %w", path, err)
	}
	return &lf, nil
}

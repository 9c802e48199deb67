// Package taxonomy pins the closed topic taxonomy and the rule dictionaries
// shared across the triage pipeline.
//
// The values here are a contract between the LLM prompt, the validator, and
// every downstream consumer, so they change only with a coordinated version
// bump — never at runtime.
package taxonomy

// Topics is the closed topic taxonomy. A labelid outside this list is a
// business-rule violation, never silently accepted.
var Topics = []string{
	"FATTURAZIONE",
	"ASSISTENZA_TECNICA",
	"RECLAMO",
	"INFO_COMMERCIALI",
	"DOCUMENTI",
	"APPUNTAMENTO",
	"CONTRATTO",
	"GARANZIA",
	"SPEDIZIONE",
	"UNKNOWN_TOPIC",
}

// Aliases maps known LLM labelid spellings to canonical taxonomy values.
// Resolving an alias is cosmetic normalization, not an error.
var Aliases = map[string]string{
	"FATTURA":           "FATTURAZIONE",
	"BILLING":           "FATTURAZIONE",
	"ASSISTENZA":        "ASSISTENZA_TECNICA",
	"SUPPORTO_TECNICO":  "ASSISTENZA_TECNICA",
	"SUPPORTO":          "ASSISTENZA_TECNICA",
	"INFO":              "INFO_COMMERCIALI",
	"COMMERCIALE":       "INFO_COMMERCIALI",
	"DOCUMENTO":         "DOCUMENTI",
	"CONTRATTI":         "CONTRATTO",
	"CONSEGNA":          "SPEDIZIONE",
	"UNKNOWN":           "UNKNOWN_TOPIC",
	"ALTRO":             "UNKNOWN_TOPIC",
}

// IsValidTopic reports whether labelid is a canonical taxonomy value.
func IsValidTopic(labelid string) bool {
	for _, t := range Topics {
		if t == labelid {
			return true
		}
	}
	return false
}

// Canonical resolves a labelid alias to its canonical value. Unmapped input
// is returned unchanged.
func Canonical(labelid string) string {
	if c, ok := Aliases[labelid]; ok {
		return c
	}
	return labelid
}

// UrgentTerms and HighTerms drive rule-based priority scoring.
var UrgentTerms = []string{
	"urgente", "bloccante", "diffida", "reclamo", "rimborso",
	"disdetta", "guasto", "fermo", "critico", "sla",
}

var HighTerms = []string{
	"problema", "errore", "non funziona", "assistenza", "supporto",
}

// ExistingCustomerSignals are text fragments that indicate the sender is an
// existing customer when the CRM has no record.
var ExistingCustomerSignals = []string{
	"ho già un contratto",
	"cliente dal",
	"vostro cliente",
	"mio account",
	"precedente ordine",
	"sono già cliente",
}

// Quality and size limits for LLM output validation.
const (
	MinConfidenceWarning = 0.2
	MaxTopics            = 5
	MaxKeywordsPerTopic  = 15
	MaxEvidencePerTopic  = 2
	MaxQuoteLength       = 200
	MaxPrioritySignals   = 6
)

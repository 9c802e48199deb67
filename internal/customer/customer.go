// Package customer computes the sender's customer status deterministically
// from a CRM lookup plus text signals. The LLM is never consulted: status
// feeds priority scoring and must not be hallucinatable.
package customer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inboxlab/triage/internal/taxonomy"
	"github.com/inboxlab/triage/internal/triage"
)

// Lookup resolves an email address against the CRM. matchType is one of
// "exact", "domain", or "none".
type Lookup func(ctx context.Context, email string) (matchType string, confidence float64, err error)

// Compute derives the customer status:
//
//	CRM exact match        → existing, 1.0, crm_exact_match
//	CRM domain match       → existing, 0.7, crm_domain_match
//	no match + text signal → existing, 0.5, text_signal
//	no match, no signal    → new,      0.8, no_crm_no_signal
//	lookup error           → unknown,  0.2, lookup_failed
func Compute(ctx context.Context, fromEmail, textBody string, lookup Lookup) triage.CustomerStatus {
	matchType, _, err := lookup(ctx, fromEmail)
	if err != nil {
		slog.Error("crm lookup failed", "email", fromEmail, "error", err)
		return triage.CustomerStatus{Value: "unknown", Confidence: 0.2, Source: "lookup_failed"}
	}

	switch matchType {
	case "exact":
		return triage.CustomerStatus{Value: "existing", Confidence: 1.0, Source: "crm_exact_match"}
	case "domain":
		return triage.CustomerStatus{Value: "existing", Confidence: 0.7, Source: "crm_domain_match"}
	case "none":
		lower := strings.ToLower(textBody)
		for _, signal := range taxonomy.ExistingCustomerSignals {
			if strings.Contains(lower, signal) {
				return triage.CustomerStatus{Value: "existing", Confidence: 0.5, Source: "text_signal"}
			}
		}
		return triage.CustomerStatus{Value: "new", Confidence: 0.8, Source: "no_crm_no_signal"}
	}
	return triage.CustomerStatus{Value: "unknown", Confidence: 0.2, Source: "lookup_failed"}
}

// MockLookup is an in-memory CRM for tests and local runs.
func MockLookup(ctx context.Context, email string) (string, float64, error) {
	knownEmails := map[string]struct{}{
		"mario.rossi@example.it": {},
		"cliente@acme.com":       {},
	}
	knownDomains := map[string]struct{}{
		"acme.com":   {},
		"partner.it": {},
	}

	if _, ok := knownEmails[email]; ok {
		return "exact", 1.0, nil
	}
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		if _, ok := knownDomains[email[at+1:]]; ok {
			return "domain", 0.7, nil
		}
	}
	return "none", 0.0, nil
}

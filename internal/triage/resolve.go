package triage

import "fmt"

// ResolveKeywords replaces every topic's echoed keyword references with
// catalog-resolved keywords. All fields of the resolved keywords come from the
// catalog; the only LLM contribution that survives is the selection itself.
//
// A reference to an unknown candidateid returns *InventedReferenceError: by
// the time resolution runs validation has already rejected such records, so
// hitting one here means the caller skipped validation.
func ResolveKeywords(t *Triage, catalog *Catalog) ([]string, error) {
	var warnings []string
	for _, topic := range t.Topics {
		resolved := make([]Keyword, 0, len(topic.Refs))
		for _, ref := range topic.Refs {
			cand, ok := catalog.Get(ref.CandidateID)
			if !ok {
				return warnings, &InventedReferenceError{CandidateID: ref.CandidateID}
			}
			if ref.EchoCount != nil && *ref.EchoCount != cand.Count {
				warnings = append(warnings, fmt.Sprintf(
					"Count mismatch for %s: LLM=%d, catalog=%d — using catalog value",
					ref.CandidateID, *ref.EchoCount, cand.Count))
			}
			resolved = append(resolved, Keyword{
				CandidateID:    cand.CandidateID,
				Term:           cand.Term,
				Lemma:          cand.Lemma,
				Count:          cand.Count,
				Source:         cand.Source,
				EmbeddingScore: cand.EmbeddingScore,
			})
		}
		topic.Keywords = resolved
	}
	return warnings, nil
}

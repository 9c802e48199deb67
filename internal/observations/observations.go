// Package observations builds append-only (topic, keyword) co-occurrence
// facts from validated triage records. Observations feed future dictionary
// promotion; they are never promoted inline.
package observations

import (
	"time"

	"github.com/google/uuid"

	"github.com/inboxlab/triage/internal/triage"
)

// Build emits one observation per (topic, resolved keyword) pair. Keyword
// metadata comes from the catalog candidate; references without a catalog
// entry are skipped, since resolution has already rejected invented ids.
func Build(messageID string, topics []*triage.Topic, catalog *triage.Catalog, dictVersion int) []triage.Observation {
	var observations []triage.Observation
	observedAt := time.Now().UTC().Format(time.RFC3339)

	for _, topic := range topics {
		for _, kw := range topic.Keywords {
			cand, ok := catalog.Get(kw.CandidateID)
			if !ok {
				continue
			}
			observations = append(observations, triage.Observation{
				ObsID:            uuid.NewString(),
				MessageID:        messageID,
				LabelID:          topic.LabelID,
				CandidateID:      cand.CandidateID,
				Lemma:            cand.Lemma,
				Term:             cand.Term,
				Count:            cand.Count,
				EmbeddingScore:   cand.EmbeddingScore,
				DictVersion:      dictVersion,
				PromotedToActive: false,
				ObservedAt:       observedAt,
			})
		}
	}
	return observations
}

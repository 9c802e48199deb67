// Package confidence recalibrates LLM topic confidences with deterministic
// evidence: keyword quality from the trusted catalog, evidence coverage, and
// lemma ambiguity.
//
// The LLM's own confidence keeps a minority weight; most of the adjusted
// value comes from signals the model cannot fabricate.
package confidence

import (
	"github.com/inboxlab/triage/internal/triage"
)

// Component weights and bounds of the composite score.
const (
	DefaultWeightLLM       = 0.3
	DefaultWeightKeywords  = 0.4
	DefaultWeightEvidence  = 0.2
	DefaultWeightCollision = 0.1

	// NoKeywordFloor is assigned when a topic carries no resolved
	// keywords: nothing deterministic supports it.
	NoKeywordFloor = 0.1

	// EvidenceSaturation is the evidence count at which coverage maxes out.
	EvidenceSaturation = 2
)

// CollisionIndex reports which topic labels a lemma has been observed under.
// A lemma known under multiple labels is ambiguous and weakens keyword-based
// confidence.
type CollisionIndex interface {
	LabelsFor(lemma string) []string
}

// EmptyCollisionIndex knows no collisions; every lemma counts as unambiguous.
type EmptyCollisionIndex struct{}

func (EmptyCollisionIndex) LabelsFor(string) []string { return nil }

// MapCollisionIndex is a CollisionIndex backed by a static map.
type MapCollisionIndex map[string][]string

func (m MapCollisionIndex) LabelsFor(lemma string) []string { return m[lemma] }

// Adjuster computes adjusted topic confidences. The zero value is unusable;
// construct with NewAdjuster.
type Adjuster struct {
	WeightLLM       float64
	WeightKeywords  float64
	WeightEvidence  float64
	WeightCollision float64
	Floor           float64
}

// NewAdjuster returns an adjuster with the default weights.
func NewAdjuster() *Adjuster {
	return &Adjuster{
		WeightLLM:       DefaultWeightLLM,
		WeightKeywords:  DefaultWeightKeywords,
		WeightEvidence:  DefaultWeightEvidence,
		WeightCollision: DefaultWeightCollision,
		Floor:           NoKeywordFloor,
	}
}

// Adjust computes the composite confidence for one topic. Keywords must
// already be catalog-resolved.
func (a *Adjuster) Adjust(topic *triage.Topic, catalog *triage.Catalog, index CollisionIndex, llmConfidence float64) float64 {
	if len(topic.Keywords) == 0 {
		return a.Floor
	}

	qualitySum := 0.0
	collisionSum := 0.0
	for _, kw := range topic.Keywords {
		if cand, ok := catalog.Get(kw.CandidateID); ok {
			qualitySum += cand.Quality()
		}
		collisionSum += collisionWeight(index, kw.Lemma)
	}
	n := float64(len(topic.Keywords))
	avgQuality := qualitySum / n
	avgCollision := collisionSum / n

	coverage := float64(len(topic.Evidence)) / float64(EvidenceSaturation)
	if coverage > 1 {
		coverage = 1
	}

	score := a.WeightLLM*llmConfidence +
		a.WeightKeywords*avgQuality +
		a.WeightEvidence*coverage +
		a.WeightCollision*avgCollision
	return clamp01(score)
}

// AdjustAll adjusts every topic in place: confidence_llm preserves the
// model's value, confidence_adjusted holds the composite, and confidence
// aliases the adjusted value for downstream consumers.
func (a *Adjuster) AdjustAll(data *triage.Triage, catalog *triage.Catalog, index CollisionIndex) {
	if index == nil {
		index = EmptyCollisionIndex{}
	}
	for _, topic := range data.Topics {
		llm := topic.ConfidenceLLM
		if llm == 0 {
			llm = topic.Confidence
		}
		adjusted := a.Adjust(topic, catalog, index, llm)
		topic.ConfidenceLLM = llm
		topic.ConfidenceAdjusted = adjusted
		topic.Confidence = adjusted
	}
}

// collisionWeight is 1 for an unambiguous lemma and 1/len(labels) when the
// collision index knows the lemma under several labels.
func collisionWeight(index CollisionIndex, lemma string) float64 {
	labels := index.LabelsFor(lemma)
	if len(labels) > 1 {
		return 1 / float64(len(labels))
	}
	return 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package priority implements rule-based priority scoring. Priority is never
// delegated to the LLM: it is recomputed from keyword hits, sentiment,
// customer status, deadline mentions, and VIP status, with configurable
// weights.
package priority

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/inboxlab/triage/internal/taxonomy"
	"github.com/inboxlab/triage/internal/triage"
)

// Weights parameterize the scorer. They can be recalibrated from historical
// data without touching the bucketing.
type Weights struct {
	UrgentTerms       float64
	HighTerms         float64
	SentimentNegative float64
	CustomerNew       float64
	DeadlineSignal    float64
	VIPCustomer       float64
}

// DefaultWeights returns the production default weights.
func DefaultWeights() Weights {
	return Weights{
		UrgentTerms:       3.0,
		HighTerms:         1.5,
		SentimentNegative: 2.0,
		CustomerNew:       1.0,
		DeadlineSignal:    2.0,
		VIPCustomer:       2.5,
	}
}

// Italian deadline mentions.
var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)entro il \d{1,2}`),
	regexp.MustCompile(`(?i)scadenza.*\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`(?i)entro \d{1,2} giorni`),
}

// Bucket thresholds over the raw score.
const (
	urgentThreshold = 7.0
	highThreshold   = 4.0
	mediumThreshold = 2.0
)

// Scorer computes priority from rule signals.
type Scorer struct {
	weights Weights
}

// NewScorer returns a scorer with the given weights; pass DefaultWeights()
// for the standard configuration.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Score computes the priority bucket for one email. sentimentValue is one of
// positive/neutral/negative, customerValue one of new/existing/unknown.
func (s *Scorer) Score(subject, bodyCanonical, sentimentValue, customerValue string, vip bool) triage.Priority {
	text := strings.ToLower(subject + " " + bodyCanonical)
	rawScore := 0.0
	signals := []string{}

	if count := countTerms(text, taxonomy.UrgentTerms); count > 0 {
		rawScore += s.weights.UrgentTerms * float64(count)
		signals = append(signals, "urgent_keywords:"+strconv.Itoa(count))
	}
	if count := countTerms(text, taxonomy.HighTerms); count > 0 {
		rawScore += s.weights.HighTerms * float64(count)
		signals = append(signals, "high_keywords:"+strconv.Itoa(count))
	}
	if sentimentValue == "negative" {
		rawScore += s.weights.SentimentNegative
		signals = append(signals, "negative_sentiment")
	}
	if customerValue == "new" {
		rawScore += s.weights.CustomerNew
		signals = append(signals, "new_customer")
	}
	if boost := deadlineBoost(text); boost > 0 {
		rawScore += s.weights.DeadlineSignal * float64(boost)
		signals = append(signals, "deadline_mentioned")
	}
	if vip {
		rawScore += s.weights.VIPCustomer
		signals = append(signals, "vip_customer")
	}

	value, confidence := bucket(rawScore)
	return triage.Priority{
		Value:      value,
		Confidence: confidence,
		Signals:    signals,
		RawScore:   rawScore,
	}
}

func bucket(rawScore float64) (string, float64) {
	switch {
	case rawScore >= urgentThreshold:
		return "urgent", 0.95
	case rawScore >= highThreshold:
		return "high", 0.85
	case rawScore >= mediumThreshold:
		return "medium", 0.75
	default:
		return "low", 0.70
	}
}

// countTerms counts how many distinct dictionary terms occur in text.
func countTerms(text string, terms []string) int {
	count := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			count++
		}
	}
	return count
}

// deadlineBoost returns 2 when any deadline pattern matches, 0 otherwise.
func deadlineBoost(text string) int {
	for _, pattern := range deadlinePatterns {
		if pattern.MatchString(text) {
			return 2
		}
	}
	return 0
}

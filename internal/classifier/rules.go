package classifier

import (
	"context"
	"strings"
)

// Keyword lists are an implementation detail, not part of the
// classification contract. They match the vocabulary people actually
// use when asking for more time.
var (
	workKeywords = []string{
		"work", "project", "meeting", "deadline", "client",
		"presentation", "report", "email", "study", "homework",
		"assignment", "class", "lecture",
	}

	highUrgencyKeywords = []string{
		"urgent", "emergency", "deadline", "asap", "immediately",
		"right now", "critical",
	}

	mediumUrgencyKeywords = []string{
		"important", "soon", "today", "need to",
	}
)

// RuleClassifier is the reference rule-based implementation: keyword
// matching for work-relatedness and urgency, optional example-based
// similarity for quality.
type RuleClassifier struct {
	examples []Example
}

// NewRuleClassifier creates a rule-based classifier. examples may be
// nil; without them quality always grades Fair.
func NewRuleClassifier(examples []Example) *RuleClassifier {
	return &RuleClassifier{examples: examples}
}

// Classify grades a justification. It never fails.
func (c *RuleClassifier) Classify(_ context.Context, reason string, _ Context) (Signals, error) {
	text := strings.ToLower(reason)

	signals := Signals{
		WorkRelated: matchesAny(text, workKeywords),
		Urgency:     UrgencyLow,
		Quality:     c.gradeQuality(text),
	}

	switch {
	case matchesAny(text, highUrgencyKeywords):
		signals.Urgency = UrgencyHigh
	case matchesAny(text, mediumUrgencyKeywords):
		signals.Urgency = UrgencyMedium
	}

	return signals, nil
}

// gradeQuality grades by token overlap against the best-matching
// example, defaulting to Fair when nothing resembles the input.
func (c *RuleClassifier) gradeQuality(text string) Quality {
	if len(c.examples) == 0 {
		return QualityFair
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return QualityPoor
	}

	best := QualityFair
	bestScore := 0.0
	for _, example := range c.examples {
		score := overlap(tokens, tokenize(strings.ToLower(example.Input)))
		if score > bestScore {
			bestScore = score
			best = example.Quality
		}
	}

	// Require a meaningful resemblance before trusting the label.
	if bestScore < 0.3 {
		return QualityFair
	}
	return best
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ".,!?;:\"'")
		if len(field) > 2 {
			tokens[field] = true
		}
	}
	return tokens
}

// overlap is the Jaccard similarity of two token sets.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for token := range a {
		if b[token] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// Package coach produces short habit-coaching responses from a user's
// current usage state. Responses are fully deterministic: the same
// input and state always yield the same response.
package coach

import "strings"

// InterventionType categorizes what kind of nudge a response carries.
type InterventionType string

const (
	InterventionStressRelief     InterventionType = "stress-relief"
	InterventionFocusEnhancement InterventionType = "focus-enhancement"
	InterventionBreakSuggestion  InterventionType = "break-suggestion"
	InterventionUsageAwareness   InterventionType = "usage-awareness"
	InterventionSupportive       InterventionType = "supportive"
)

// State is the usage context a response is grounded in.
type State struct {
	TrustScore        int
	TotalMinutesToday int
	DailyLimitMinutes int
	Suggestions       []string // from pattern analysis, may be empty
}

// Response is one coaching reply.
type Response struct {
	Content          string           `json:"content"`
	InterventionType InterventionType `json:"interventionType"`
	Suggestion       string           `json:"suggestion"`
	Confidence       float64          `json:"confidence"`
}

const responseConfidence = 0.8

var interventionKeywords = []struct {
	kind  InterventionType
	terms []string
}{
	{InterventionStressRelief, []string{"stress", "overwhelm", "anxiety"}},
	{InterventionFocusEnhancement, []string{"focus", "distract", "concentrate"}},
	{InterventionBreakSuggestion, []string{"break", "rest", "tired"}},
	{InterventionUsageAwareness, []string{"limit", "time", "usage"}},
}

var defaultSuggestions = map[InterventionType]string{
	InterventionStressRelief:     "Try taking a 5-minute mindfulness break",
	InterventionFocusEnhancement: "What if you tried the 20-20-20 rule for your eyes?",
	InterventionBreakSuggestion:  "A short walk might help refresh your perspective",
	InterventionUsageAwareness:   "Consider setting a gentle reminder to check in with yourself",
	InterventionSupportive:       "Notice what you're feeling right now - that's a great first step",
}

// Respond builds a coaching reply for one user message.
func Respond(input string, state State) Response {
	kind := classifyIntervention(input)
	return Response{
		Content:          content(kind, state),
		InterventionType: kind,
		Suggestion:       suggestion(kind, state),
		Confidence:       responseConfidence,
	}
}

func classifyIntervention(input string) InterventionType {
	lower := strings.ToLower(input)
	for _, group := range interventionKeywords {
		for _, term := range group.terms {
			if strings.Contains(lower, term) {
				return group.kind
			}
		}
	}
	return InterventionSupportive
}

// suggestion prefers what pattern analysis already knows about the
// user; the per-type default is the fallback for thin histories.
func suggestion(kind InterventionType, state State) string {
	if len(state.Suggestions) > 0 {
		return state.Suggestions[0]
	}
	return defaultSuggestions[kind]
}

func content(kind InterventionType, state State) string {
	overLimit := state.DailyLimitMinutes > 0 && state.TotalMinutesToday > state.DailyLimitMinutes

	switch kind {
	case InterventionStressRelief:
		return "It sounds like things feel heavy right now. Stepping away from the screen for a few minutes can help more than pushing through."
	case InterventionFocusEnhancement:
		if overLimit {
			return "Focus is hard after a long screen day. Closing the apps you are not using right now is a good place to start."
		}
		return "Focus comes easier in short, protected blocks. Try silencing notifications for the next stretch of work."
	case InterventionBreakSuggestion:
		return "Taking a real break is part of the plan, not a failure of it. Your limits will still be here when you get back."
	case InterventionUsageAwareness:
		if overLimit {
			return "You are past today's limit. That happens; what matters is how the rest of the day goes from here."
		}
		if state.TrustScore >= 70 {
			return "You have been keeping to your limits well. Your time budget still has room today."
		}
		return "Checking in on your usage is a good habit. Small adjustments now beat big corrections later."
	default:
		return "I'm here to support your wellness journey. How can I help you today?"
	}
}

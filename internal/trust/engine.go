// Package trust derives a 0-100 reputation score from daily usage
// summaries. Scoring is a pure function of its inputs; persistence and
// caching live elsewhere.
package trust

import (
	"github.com/screenwise/screenwise/internal/storage"
)

const (
	// NeutralScore is returned when no history exists to score.
	NeutralScore = 50

	// DefaultWindowDays is the rolling window for the trend score.
	DefaultWindowDays = 7

	maxOveragePenalty  = 40
	perAppPenalty      = 5
	maxPerAppPenalty   = 30
	maxCategoryPenalty = 15

	socialThresholdMinutes        = 120
	entertainmentThresholdMinutes = 180

	goodBehaviorBonus  = 10
	perBreakBonus      = 2
	maxBreakBonus      = 10
	perFocusBonus      = 3
	maxFocusBonus      = 10
	goodBehaviorFactor = 0.8
)

// ComputeDailyScore scores one day. The result is always in [0, 100].
func ComputeDailyScore(summary storage.DailySummary) int {
	score := 100.0

	// Overage against the aggregate daily limit.
	if summary.DailyLimitMinutes > 0 && summary.TotalMinutes > summary.DailyLimitMinutes {
		overage := float64(summary.TotalMinutes-summary.DailyLimitMinutes) / float64(summary.DailyLimitMinutes)
		score -= min(maxOveragePenalty, overage*30)
	}

	// Apps over their individual limits.
	score -= min(maxPerAppPenalty, float64(summary.AppsOverLimit*perAppPenalty))

	// Category-level penalties for heavy social and entertainment use.
	if social := summary.CategoryMinutes[storage.CategorySocial]; social > socialThresholdMinutes {
		score -= min(maxCategoryPenalty, float64(social-socialThresholdMinutes)/60*5)
	}
	if ent := summary.CategoryMinutes[storage.CategoryEntertainment]; ent > entertainmentThresholdMinutes {
		score -= min(maxCategoryPenalty, float64(ent-entertainmentThresholdMinutes)/60*3)
	}

	// Good-behavior bonus: comfortably under the daily limit with no
	// app over its own.
	if summary.DailyLimitMinutes > 0 &&
		float64(summary.TotalMinutes) <= goodBehaviorFactor*float64(summary.DailyLimitMinutes) &&
		summary.AppsOverLimit == 0 {
		score += goodBehaviorBonus
	}

	// Breaks and focus sessions, when the usage feed reports them.
	score += min(maxBreakBonus, float64(summary.BreaksTaken*perBreakBonus))
	score += min(maxFocusBonus, float64(summary.FocusSessions*perFocusBonus))

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// ComputeTrendScore averages daily scores over the most recent
// windowDays entries of history (oldest first). Shorter histories
// average over what exists; an empty history scores neutral.
func ComputeTrendScore(history []storage.DailySummary, windowDays int) int {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if len(history) == 0 {
		return NeutralScore
	}

	start := len(history) - windowDays
	if start < 0 {
		start = 0
	}
	recent := history[start:]

	total := 0
	for _, day := range recent {
		total += ComputeDailyScore(day)
	}
	return total / len(recent)
}

// Package patterns derives behavioral signals from usage history:
// within-limit streaks, peak hours, chronically over-limit apps, and
// advisory improvement suggestions. All functions are pure; history is
// ordered oldest to newest.
package patterns

import (
	"github.com/screenwise/screenwise/internal/storage"
)

const (
	topN = 3

	avgTotalThreshold    = 300
	avgBreaksThreshold   = 3
	avgOverrideThreshold = 2
)

// Day pairs one day's summary with its per-app records.
type Day struct {
	Summary storage.DailySummary
	Records []storage.DailyUsageRecord
}

// Patterns is the analyzer's combined output.
type Patterns struct {
	PeakHours   []string `json:"peak_hours"`
	ProblemApps []string `json:"problem_apps"`
	Streak      int      `json:"streak"`
	Suggestions []string `json:"suggestions"`
}

// Analyze runs every analysis over the same history.
func Analyze(days []Day) Patterns {
	return Patterns{
		PeakHours:   PeakHours(days),
		ProblemApps: ProblemApps(days),
		Streak:      CurrentStreak(days),
		Suggestions: Suggestions(days),
	}
}

// CurrentStreak counts consecutive most-recent days where total usage
// stayed within the daily limit, stopping at the first violating day.
func CurrentStreak(days []Day) int {
	streak := 0
	for i := len(days) - 1; i >= 0; i-- {
		s := days[i].Summary
		if s.DailyLimitMinutes > 0 && s.TotalMinutes > s.DailyLimitMinutes {
			break
		}
		streak++
	}
	return streak
}

// PeakHours returns the top 3 hour labels by frequency across all apps'
// recorded peak-usage hours. Ties keep first-seen order.
func PeakHours(days []Day) []string {
	counts := make(map[string]int)
	var order []string

	for _, day := range days {
		for _, record := range day.Records {
			for _, hour := range record.PeakHours {
				if _, seen := counts[hour]; !seen {
					order = append(order, hour)
				}
				counts[hour]++
			}
		}
	}

	return topByCount(order, counts)
}

// ProblemApps returns the top 3 apps by count of days spent over their
// own limit. Ties keep first-seen order.
func ProblemApps(days []Day) []string {
	counts := make(map[string]int)
	var order []string

	for _, day := range days {
		for _, record := range day.Records {
			if !record.OverLimit() {
				continue
			}
			if _, seen := counts[record.App]; !seen {
				order = append(order, record.App)
			}
			counts[record.App]++
		}
	}

	return topByCount(order, counts)
}

// Suggestions produces advisory text from recent averages. Purely
// informational; nothing acts on these.
func Suggestions(days []Day) []string {
	suggestions := []string{}
	if len(days) == 0 {
		return suggestions
	}

	totalMinutes, totalBreaks, totalOverrides := 0, 0, 0
	for _, day := range days {
		totalMinutes += day.Summary.TotalMinutes
		totalBreaks += day.Summary.BreaksTaken
		totalOverrides += day.Summary.OverrideCount
	}
	n := float64(len(days))

	if float64(totalMinutes)/n > avgTotalThreshold {
		suggestions = append(suggestions, "Consider setting shorter daily limits to build sustainable habits")
	}
	if float64(totalBreaks)/n < avgBreaksThreshold {
		suggestions = append(suggestions, "Try to take more breaks throughout the day")
	}
	if float64(totalOverrides)/n > avgOverrideThreshold {
		suggestions = append(suggestions, "Focus on honoring your initial time limits more consistently")
	}

	return suggestions
}

// topByCount picks the topN keys by count, stable on first-seen order.
func topByCount(order []string, counts map[string]int) []string {
	top := []string{}
	picked := make(map[string]bool)

	for len(top) < topN {
		best := ""
		bestCount := 0
		for _, key := range order {
			if picked[key] {
				continue
			}
			if counts[key] > bestCount {
				best = key
				bestCount = counts[key]
			}
		}
		if best == "" {
			break
		}
		picked[best] = true
		top = append(top, best)
	}

	return top
}

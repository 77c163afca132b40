package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateFormat is the calendar-day key format used throughout storage.
const DateFormat = "2006-01-02"

// Category classifies an app for limit and penalty purposes.
type Category string

const (
	CategorySocial        Category = "Social"
	CategoryEntertainment Category = "Entertainment"
	CategoryProductivity  Category = "Productivity"
	CategoryGames         Category = "Games"
	CategoryEducation     Category = "Education"
	CategoryHealth        Category = "Health"
	CategoryFinance       Category = "Finance"
	CategoryOther         Category = "Other"
)

var categories = map[string]Category{
	"social":        CategorySocial,
	"entertainment": CategoryEntertainment,
	"productivity":  CategoryProductivity,
	"games":         CategoryGames,
	"education":     CategoryEducation,
	"health":        CategoryHealth,
	"finance":       CategoryFinance,
	"other":         CategoryOther,
}

// ParseCategory normalizes a category name, falling back to Other for
// unrecognized values so usage feeds with unknown categories still record.
func ParseCategory(s string) Category {
	if c, ok := categories[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CategoryOther
}

// UnmarshalJSON implements json.Unmarshaler to normalize and validate.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalized, ok := categories[strings.ToLower(s)]
	if !ok {
		return fmt.Errorf("invalid category: %s", s)
	}
	*c = normalized
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

// DailyUsageRecord is one app's usage for one user on one calendar day.
// At most one record exists per (user, app, date). Version increments on
// every mutation and drives optimistic concurrency for limit adjustments.
type DailyUsageRecord struct {
	UserID       string    `json:"user_id"`
	App          string    `json:"app"`
	Category     Category  `json:"category"`
	Date         string    `json:"date"`
	MinutesUsed  int       `json:"minutes_used"`
	MinutesLimit int       `json:"minutes_limit"` // 0 = no limit tracked
	PeakHours    []string  `json:"peak_hours"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OverLimit reports whether the app exceeded its own limit.
// Apps without a tracked limit are never over it.
func (r DailyUsageRecord) OverLimit() bool {
	return r.MinutesLimit > 0 && r.MinutesUsed > r.MinutesLimit
}

// OverrideEvent records a resolved override request. Immutable once
// written; keyed by ID so a retried commit overwrites rather than
// duplicates.
type OverrideEvent struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	App              string    `json:"app"`
	Date             string    `json:"date"`
	RequestedMinutes int       `json:"requested_minutes"`
	GrantedMinutes   int       `json:"granted_minutes"`
	Reason           string    `json:"reason"`
	WorkRelated      bool      `json:"work_related"`
	Urgency          string    `json:"urgency"`
	Quality          string    `json:"quality"`
	Approved         bool      `json:"approved"`
	CreatedAt        time.Time `json:"created_at"`
}

// DailySummary aggregates one user's day. CategoryMinutes and
// AppsOverLimit are denormalized from the day's records so the trust
// score is computable from the summary alone.
type DailySummary struct {
	UserID            string           `json:"user_id"`
	Date              string           `json:"date"`
	TotalMinutes      int              `json:"total_minutes"`
	DailyLimitMinutes int              `json:"daily_limit_minutes"`
	TrustScore        int              `json:"trust_score"`
	ScoreStale        bool             `json:"score_stale"`
	BreaksTaken       int              `json:"breaks_taken"`
	FocusSessions     int              `json:"focus_sessions"`
	CategoryMinutes   map[Category]int `json:"category_minutes"`
	AppsOverLimit     int              `json:"apps_over_limit"`
	OverrideCount     int              `json:"override_count"`
}

// LimitAdjustment is a signed change to one app's daily limit.
type LimitAdjustment struct {
	App          string `json:"app"`
	DeltaMinutes int    `json:"delta_minutes"`
}

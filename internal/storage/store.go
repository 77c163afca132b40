package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a versioned write loses an optimistic
// concurrency race. Callers retry the whole read-modify-write cycle.
var ErrConflict = errors.New("storage: concurrent modification")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
}

// UsageStore manages per-day usage records, summaries, and override
// events for all users. All keys are (user, date) or (user, app, date);
// dates use DateFormat in the user's local calendar.
type UsageStore interface {
	// GetRecord returns one (user, app, date) record, or ErrNotFound.
	GetRecord(ctx context.Context, userID, app, date string) (*DailyUsageRecord, error)

	// ListDay returns all records for a user's day. An empty day yields
	// an empty slice, not an error.
	ListDay(ctx context.Context, userID, date string) ([]DailyUsageRecord, error)

	// IncrementUsage additively updates a day's minutes for an app,
	// creating the record if needed, and marks the day's summary score
	// stale. hourLabel, when non-empty, is appended to the record's peak
	// hour set. The whole update is atomic.
	IncrementUsage(ctx context.Context, userID, app string, category Category, date string, minutes int, hourLabel string) error

	// SetLimit sets an app's daily limit for one day, creating the
	// record if needed.
	SetLimit(ctx context.Context, userID, app, date string, minutes int) error

	// AdjustLimits applies signed limit deltas to several apps in one
	// atomic batch. expectedVersions carries the Version observed for
	// each touched app's record; ErrConflict is returned, and nothing
	// applied, when any record moved in the meantime.
	AdjustLimits(ctx context.Context, userID, date string, adjustments []LimitAdjustment, expectedVersions map[string]int64) error

	// GetSummary returns a user's day summary, or ErrNotFound.
	GetSummary(ctx context.Context, userID, date string) (*DailySummary, error)

	// PutSummary stores a day summary, replacing any previous one and
	// clearing the stale marker.
	PutSummary(ctx context.Context, summary DailySummary) error

	// MarkScoreStale flags a day's cached trust score for recomputation.
	MarkScoreStale(ctx context.Context, userID, date string) error

	// AppendOverrideEvent records a resolved override event, keyed by
	// event ID. Rewriting an existing ID overwrites in place.
	AppendOverrideEvent(ctx context.Context, event OverrideEvent) error

	// ListOverrideEvents returns the events recorded for a user's day.
	ListOverrideEvents(ctx context.Context, userID, date string) ([]OverrideEvent, error)

	// CountOverrideEvents counts events across a window of days ending
	// at endDate inclusive.
	CountOverrideEvents(ctx context.Context, userID, endDate string, windowDays int) (int, error)

	// MarkApplied records a decision ID as committed. Returns false when
	// the ID was already marked, which callers treat as "skip the limit
	// mutation, the grant was applied before the crash/retry".
	MarkApplied(ctx context.Context, decisionID string) (bool, error)
}

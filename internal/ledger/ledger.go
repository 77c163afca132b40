// Package ledger is the write path for daily usage data. It owns the
// derived day summaries: every mutation marks the affected summary
// stale, and reads recompute the trust score lazily before returning.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/screenwise/screenwise/internal/metrics"
	"github.com/screenwise/screenwise/internal/override"
	"github.com/screenwise/screenwise/internal/storage"
	"github.com/screenwise/screenwise/internal/trust"
)

// DefaultDailyLimit applies when no daily limit was configured for a day.
const DefaultDailyLimit = 360

// ErrNegativeDelta is returned when a usage update would subtract time.
var ErrNegativeDelta = errors.New("ledger: negative usage delta")

const conflictRetries = 3

// Ledger coordinates usage records, summaries, and override events on
// top of a UsageStore.
type Ledger struct {
	store             storage.UsageStore
	defaultDailyLimit int
	logger            zerolog.Logger
}

func New(store storage.UsageStore, defaultDailyLimit int, logger zerolog.Logger) *Ledger {
	if defaultDailyLimit <= 0 {
		defaultDailyLimit = DefaultDailyLimit
	}
	return &Ledger{
		store:             store,
		defaultDailyLimit: defaultDailyLimit,
		logger:            logger.With().Str("component", "ledger").Logger(),
	}
}

// RecordUsage adds minutes to an app's record for a day. A zero delta
// is a no-op; negative deltas are rejected. hour, when in [0,23], is
// folded into the record's peak hour set.
func (l *Ledger) RecordUsage(ctx context.Context, userID, app string, category storage.Category, date string, minutesDelta, hour int) error {
	if minutesDelta < 0 {
		return ErrNegativeDelta
	}
	if minutesDelta == 0 {
		return nil
	}

	hourLabel := ""
	if hour >= 0 && hour <= 23 {
		hourLabel = fmt.Sprintf("%02d:00", hour)
	}
	if err := l.store.IncrementUsage(ctx, userID, app, category, date, minutesDelta, hourLabel); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// SetLimit sets an app's per-day limit.
func (l *Ledger) SetLimit(ctx context.Context, userID, app, date string, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("set limit: minutes must be >= 0, got %d", minutes)
	}
	if err := l.store.SetLimit(ctx, userID, app, date, minutes); err != nil {
		return fmt.Errorf("set limit: %w", err)
	}
	return nil
}

// GetDay returns every app record for a user's day. A day with no
// recorded usage is ErrNotFound.
func (l *Ledger) GetDay(ctx context.Context, userID, date string) ([]storage.DailyUsageRecord, error) {
	records, err := l.store.ListDay(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("get day: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records, nil
}

// GetSummary returns a user's day summary with a current trust score,
// rebuilding and persisting it first when the cached score went stale.
// A day with neither a summary nor any usage is ErrNotFound.
func (l *Ledger) GetSummary(ctx context.Context, userID, date string) (storage.DailySummary, error) {
	summary, err := l.store.GetSummary(ctx, userID, date)
	switch {
	case err == nil:
		if !summary.ScoreStale {
			return *summary, nil
		}
	case errors.Is(err, storage.ErrNotFound):
		summary = nil
	default:
		return storage.DailySummary{}, fmt.Errorf("get summary: %w", err)
	}

	return l.rebuildSummary(ctx, userID, date, summary)
}

// rebuildSummary re-derives a day's aggregates from its records and
// override events, scores it, and writes it back.
func (l *Ledger) rebuildSummary(ctx context.Context, userID, date string, prev *storage.DailySummary) (storage.DailySummary, error) {
	records, err := l.store.ListDay(ctx, userID, date)
	if err != nil {
		return storage.DailySummary{}, fmt.Errorf("rebuild summary: %w", err)
	}
	if prev == nil && len(records) == 0 {
		return storage.DailySummary{}, storage.ErrNotFound
	}

	summary := storage.DailySummary{
		UserID:            userID,
		Date:              date,
		DailyLimitMinutes: l.defaultDailyLimit,
	}
	if prev != nil {
		// Aggregates are rebuilt; manually tracked fields carry over.
		summary.DailyLimitMinutes = prev.DailyLimitMinutes
		summary.BreaksTaken = prev.BreaksTaken
		summary.FocusSessions = prev.FocusSessions
	}

	summary.CategoryMinutes = make(map[storage.Category]int)
	for _, r := range records {
		summary.TotalMinutes += r.MinutesUsed
		summary.CategoryMinutes[r.Category] += r.MinutesUsed
		if r.OverLimit() {
			summary.AppsOverLimit++
		}
	}

	events, err := l.store.ListOverrideEvents(ctx, userID, date)
	if err != nil {
		return storage.DailySummary{}, fmt.Errorf("rebuild summary: %w", err)
	}
	summary.OverrideCount = len(events)

	summary.TrustScore = trust.ComputeDailyScore(summary)
	summary.ScoreStale = false

	if err := l.store.PutSummary(ctx, summary); err != nil {
		return storage.DailySummary{}, fmt.Errorf("rebuild summary: %w", err)
	}
	metrics.SummaryRebuilds.Inc()
	l.logger.Debug().
		Str("user_id", userID).
		Str("date", date).
		Int("trust_score", summary.TrustScore).
		Msg("rebuilt day summary")
	return summary, nil
}

// GetHistory returns up to windowDays of day summaries ending at
// endDate inclusive, oldest first. Days with no data are skipped, and
// stale scores are recomputed on the way out.
func (l *Ledger) GetHistory(ctx context.Context, userID, endDate string, windowDays int) ([]storage.DailySummary, error) {
	end, err := time.Parse(storage.DateFormat, endDate)
	if err != nil {
		return nil, fmt.Errorf("get history: bad end date %q: %w", endDate, err)
	}
	if windowDays <= 0 {
		windowDays = trust.DefaultWindowDays
	}

	history := make([]storage.DailySummary, 0, windowDays)
	for i := windowDays - 1; i >= 0; i-- {
		date := end.AddDate(0, 0, -i).Format(storage.DateFormat)
		summary, err := l.GetSummary(ctx, userID, date)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		history = append(history, summary)
	}
	return history, nil
}

// SetDailyLimit sets the aggregate daily budget for one day.
func (l *Ledger) SetDailyLimit(ctx context.Context, userID, date string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("set daily limit: minutes must be > 0, got %d", minutes)
	}
	return l.updateSummary(ctx, userID, date, func(s *storage.DailySummary) {
		s.DailyLimitMinutes = minutes
	})
}

// RecordBreak notes one screen break taken during the day.
func (l *Ledger) RecordBreak(ctx context.Context, userID, date string) error {
	return l.updateSummary(ctx, userID, date, func(s *storage.DailySummary) {
		s.BreaksTaken++
	})
}

// RecordFocusSession notes one completed focus session.
func (l *Ledger) RecordFocusSession(ctx context.Context, userID, date string) error {
	return l.updateSummary(ctx, userID, date, func(s *storage.DailySummary) {
		s.FocusSessions++
	})
}

// updateSummary applies a mutation to the day's manually tracked
// summary fields, then rebuilds the aggregates and score around it.
// Creates the summary if the day has none yet.
func (l *Ledger) updateSummary(ctx context.Context, userID, date string, mutate func(*storage.DailySummary)) error {
	summary, err := l.store.GetSummary(ctx, userID, date)
	if errors.Is(err, storage.ErrNotFound) {
		summary = &storage.DailySummary{
			UserID:            userID,
			Date:              date,
			DailyLimitMinutes: l.defaultDailyLimit,
		}
	} else if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	mutate(summary)
	if _, err := l.rebuildSummary(ctx, userID, date, summary); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// ApplyGrant commits an accepted override decision: the requested app's
// limit grows by the granted minutes, and any redistribution deltas
// land in the same atomic batch. The decision ID is an idempotency key,
// so a retried commit of the same decision applies nothing.
func (l *Ledger) ApplyGrant(ctx context.Context, decision override.Decision) error {
	if decision.GrantedMinutes <= 0 {
		return nil
	}

	first, err := l.store.MarkApplied(ctx, decision.ID)
	if err != nil {
		return fmt.Errorf("apply grant: %w", err)
	}
	if !first {
		l.logger.Debug().Str("decision_id", decision.ID).Msg("grant already applied, skipping")
		return nil
	}

	userID := decision.Request.UserID
	date := decision.Request.Date
	adjustments := make([]storage.LimitAdjustment, 0, 1+len(decision.Adjustments))
	adjustments = append(adjustments, storage.LimitAdjustment{
		App:          decision.Request.App,
		DeltaMinutes: decision.GrantedMinutes,
	})
	adjustments = append(adjustments, decision.Adjustments...)

	expected := decision.ExpectedVersions
	for attempt := 1; ; attempt++ {
		err := l.store.AdjustLimits(ctx, userID, date, adjustments, expected)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) || attempt >= conflictRetries {
			return fmt.Errorf("apply grant: %w", err)
		}
		// The deltas are additive, so losing the version race just
		// means re-reading and retrying against the newer versions.
		expected, err = l.currentVersions(ctx, userID, date, adjustments)
		if err != nil {
			return fmt.Errorf("apply grant: %w", err)
		}
		l.logger.Debug().
			Str("decision_id", decision.ID).
			Int("attempt", attempt).
			Msg("limit adjustment lost a version race, retrying")
	}

	if err := l.store.MarkScoreStale(ctx, userID, date); err != nil {
		return fmt.Errorf("apply grant: %w", err)
	}
	l.logger.Info().
		Str("decision_id", decision.ID).
		Str("user_id", userID).
		Str("app", decision.Request.App).
		Int("granted_minutes", decision.GrantedMinutes).
		Msg("applied override grant")
	return nil
}

func (l *Ledger) currentVersions(ctx context.Context, userID, date string, adjustments []storage.LimitAdjustment) (map[string]int64, error) {
	versions := make(map[string]int64, len(adjustments))
	for _, adj := range adjustments {
		record, err := l.store.GetRecord(ctx, userID, adj.App, date)
		if errors.Is(err, storage.ErrNotFound) {
			versions[adj.App] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		versions[adj.App] = record.Version
	}
	return versions, nil
}

// RecordOverrideEvent stores a resolved override outcome and marks the
// day's summary for recount.
func (l *Ledger) RecordOverrideEvent(ctx context.Context, event storage.OverrideEvent) error {
	if err := l.store.AppendOverrideEvent(ctx, event); err != nil {
		return fmt.Errorf("record override event: %w", err)
	}
	if err := l.store.MarkScoreStale(ctx, event.UserID, event.Date); err != nil {
		return fmt.Errorf("record override event: %w", err)
	}
	return nil
}

// CountRecentOverrides counts override events in a trailing window of
// days ending at endDate inclusive.
func (l *Ledger) CountRecentOverrides(ctx context.Context, userID, endDate string, windowDays int) (int, error) {
	n, err := l.store.CountOverrideEvents(ctx, userID, endDate, windowDays)
	if err != nil {
		return 0, fmt.Errorf("count overrides: %w", err)
	}
	return n, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/screenwise/screenwise/internal/storage"
)

type usageStore struct {
	client *redis.Client
}

func recordKey(userID, date, app string) string {
	return fmt.Sprintf("screenwise:usage:%s:%s:%s", userID, date, app)
}

func dayIndexKey(userID, date string) string {
	return fmt.Sprintf("screenwise:usage:index:%s:%s", userID, date)
}

func summaryKey(userID, date string) string {
	return fmt.Sprintf("screenwise:summary:%s:%s", userID, date)
}

func staleKey(userID, date string) string {
	return fmt.Sprintf("screenwise:summary:stale:%s:%s", userID, date)
}

func overridesKey(userID, date string) string {
	return fmt.Sprintf("screenwise:overrides:%s:%s", userID, date)
}

func appliedKey(decisionID string) string {
	return fmt.Sprintf("screenwise:applied:%s", decisionID)
}

// GetRecord retrieves one (user, app, date) usage record
func (s *usageStore) GetRecord(ctx context.Context, userID, app, date string) (*storage.DailyUsageRecord, error) {
	data, err := s.client.HGetAll(ctx, recordKey(userID, date, app)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseUsageRecord(data)
}

// ListDay returns all usage records for a user's day
func (s *usageStore) ListDay(ctx context.Context, userID, date string) ([]storage.DailyUsageRecord, error) {
	apps, err := s.client.SMembers(ctx, dayIndexKey(userID, date)).Result()
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return []storage.DailyUsageRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(apps))
	for i, app := range apps {
		cmds[i] = pipe.HGetAll(ctx, recordKey(userID, date, app))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.DailyUsageRecord, 0, len(apps))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := parseUsageRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

// IncrementUsage atomically increments (or creates) one app's daily usage
func (s *usageStore) IncrementUsage(ctx context.Context, userID, app string, category storage.Category, date string, minutes int, hourLabel string) error {
	script := redis.NewScript(incrementUsageScript)

	keys := []string{
		recordKey(userID, date, app),
		dayIndexKey(userID, date),
		staleKey(userID, date),
	}
	args := []interface{}{
		userID,
		app,
		string(category),
		date,
		minutes,
		hourLabel,
		time.Now().Format(time.RFC3339Nano),
		retentionSeconds,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// SetLimit sets one app's daily limit for a day
func (s *usageStore) SetLimit(ctx context.Context, userID, app, date string, minutes int) error {
	script := redis.NewScript(setLimitScript)

	keys := []string{
		recordKey(userID, date, app),
		dayIndexKey(userID, date),
		staleKey(userID, date),
	}
	args := []interface{}{
		userID,
		app,
		date,
		minutes,
		time.Now().Format(time.RFC3339Nano),
		retentionSeconds,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// AdjustLimits atomically applies a batch of signed limit deltas guarded
// by per-record version checks
func (s *usageStore) AdjustLimits(ctx context.Context, userID, date string, adjustments []storage.LimitAdjustment, expectedVersions map[string]int64) error {
	if len(adjustments) == 0 {
		return nil
	}

	script := redis.NewScript(adjustLimitsScript)

	keys := make([]string, 0, len(adjustments)+2)
	for _, adj := range adjustments {
		keys = append(keys, recordKey(userID, date, adj.App))
	}
	keys = append(keys, dayIndexKey(userID, date), staleKey(userID, date))

	args := []interface{}{
		len(adjustments),
		userID,
		date,
		time.Now().Format(time.RFC3339Nano),
		retentionSeconds,
	}
	for _, adj := range adjustments {
		args = append(args, adj.App, adj.DeltaMinutes, expectedVersions[adj.App])
	}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return err
	}
	if result == "CONFLICT" {
		return storage.ErrConflict
	}
	return nil
}

// GetSummary retrieves a user's day summary
func (s *usageStore) GetSummary(ctx context.Context, userID, date string) (*storage.DailySummary, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, summaryKey(userID, date))
	staleCmd := pipe.Exists(ctx, staleKey(userID, date))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	raw, err := getCmd.Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var summary storage.DailySummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	summary.ScoreStale = staleCmd.Val() > 0
	return &summary, nil
}

// PutSummary stores a day summary and clears the stale marker
func (s *usageStore) PutSummary(ctx context.Context, summary storage.DailySummary) error {
	summary.ScoreStale = false
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, summaryKey(summary.UserID, summary.Date), raw, time.Duration(retentionSeconds)*time.Second)
	pipe.Del(ctx, staleKey(summary.UserID, summary.Date))
	_, err = pipe.Exec(ctx)
	return err
}

// MarkScoreStale flags a day's cached trust score for recomputation
func (s *usageStore) MarkScoreStale(ctx context.Context, userID, date string) error {
	return s.client.Set(ctx, staleKey(userID, date), "1", time.Duration(retentionSeconds)*time.Second).Err()
}

// AppendOverrideEvent records a resolved override event, keyed by ID so
// a retried commit overwrites in place
func (s *usageStore) AppendOverrideEvent(ctx context.Context, event storage.OverrideEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode override event: %w", err)
	}

	key := overridesKey(event.UserID, event.Date)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, event.ID, raw)
	pipe.Expire(ctx, key, time.Duration(retentionSeconds)*time.Second)
	pipe.Set(ctx, staleKey(event.UserID, event.Date), "1", time.Duration(retentionSeconds)*time.Second)
	_, err = pipe.Exec(ctx)
	return err
}

// ListOverrideEvents returns the events recorded for a user's day
func (s *usageStore) ListOverrideEvents(ctx context.Context, userID, date string) ([]storage.OverrideEvent, error) {
	data, err := s.client.HGetAll(ctx, overridesKey(userID, date)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]storage.OverrideEvent, 0, len(data))
	for _, raw := range data {
		var event storage.OverrideEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	sortEventsByTime(events)
	return events, nil
}

// CountOverrideEvents counts events across a window of days ending at
// endDate inclusive
func (s *usageStore) CountOverrideEvents(ctx context.Context, userID, endDate string, windowDays int) (int, error) {
	end, err := time.Parse(storage.DateFormat, endDate)
	if err != nil {
		return 0, fmt.Errorf("invalid end date: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		date := end.AddDate(0, 0, -i).Format(storage.DateFormat)
		cmds = append(cmds, pipe.HLen(ctx, overridesKey(userID, date)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}

	total := 0
	for _, cmd := range cmds {
		total += int(cmd.Val())
	}
	return total, nil
}

// MarkApplied records a decision ID as committed; returns false when it
// was already marked
func (s *usageStore) MarkApplied(ctx context.Context, decisionID string) (bool, error) {
	return s.client.SetNX(ctx, appliedKey(decisionID), "1", time.Duration(retentionSeconds)*time.Second).Result()
}

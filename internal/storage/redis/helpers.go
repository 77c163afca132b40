package redis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/screenwise/screenwise/internal/storage"
)

// parseUsageRecord converts a Redis hash to DailyUsageRecord
func parseUsageRecord(data map[string]string) (*storage.DailyUsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	minutesUsed, err := strconv.Atoi(data["minutes_used"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse minutes_used: %w", err)
	}

	minutesLimit, err := strconv.Atoi(data["minutes_limit"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse minutes_limit: %w", err)
	}

	version, err := strconv.ParseInt(data["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	var updatedAt time.Time
	if raw := data["updated_at"]; raw != "" {
		updatedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
	}

	var peakHours []string
	if raw := data["peak_hours"]; raw != "" {
		peakHours = strings.Split(raw, ",")
	}

	return &storage.DailyUsageRecord{
		UserID:       data["user_id"],
		App:          data["app"],
		Category:     storage.ParseCategory(data["category"]),
		Date:         data["date"],
		MinutesUsed:  minutesUsed,
		MinutesLimit: minutesLimit,
		PeakHours:    peakHours,
		Version:      version,
		UpdatedAt:    updatedAt,
	}, nil
}

// sortEventsByTime orders override events oldest first. Hash iteration
// order is random, so listing must impose one.
func sortEventsByTime(events []storage.OverrideEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/screenwise/screenwise/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

// Keys join their parts with a byte that cannot appear in user, date, or
// app identifiers so prefix scans stay unambiguous.
const keySep = "\x00"

func recordKey(userID, date, app string) []byte {
	return []byte(userID + keySep + date + keySep + app)
}

func dayPrefix(userID, date string) []byte {
	return []byte(userID + keySep + date + keySep)
}

func summaryKey(userID, date string) []byte {
	return []byte(userID + keySep + date)
}

func eventKey(userID, date, eventID string) []byte {
	return []byte(userID + keySep + date + keySep + eventID)
}

func (s *usageStore) GetRecord(ctx context.Context, userID, app, date string) (*storage.DailyUsageRecord, error) {
	var record storage.DailyUsageRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketUsageRecords)).Get(recordKey(userID, date, app))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *usageStore) ListDay(ctx context.Context, userID, date string) ([]storage.DailyUsageRecord, error) {
	records := []storage.DailyUsageRecord{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketUsageRecords)).Cursor()
		prefix := dayPrefix(userID, date)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record storage.DailyUsageRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("corrupt usage record %q: %w", k, err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *usageStore) IncrementUsage(ctx context.Context, userID, app string, category storage.Category, date string, minutes int, hourLabel string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUsageRecords))
		key := recordKey(userID, date, app)

		record := storage.DailyUsageRecord{
			UserID:   userID,
			App:      app,
			Category: category,
			Date:     date,
		}
		if raw := bucket.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("corrupt usage record: %w", err)
			}
		}

		record.MinutesUsed += minutes
		record.Version++
		record.UpdatedAt = time.Now()
		if hourLabel != "" && !containsString(record.PeakHours, hourLabel) {
			record.PeakHours = append(record.PeakHours, hourLabel)
		}

		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, raw); err != nil {
			return err
		}
		return markStale(tx, userID, date)
	})
}

func (s *usageStore) SetLimit(ctx context.Context, userID, app, date string, minutes int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUsageRecords))
		key := recordKey(userID, date, app)

		record := storage.DailyUsageRecord{
			UserID:   userID,
			App:      app,
			Category: storage.CategoryOther,
			Date:     date,
		}
		if raw := bucket.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("corrupt usage record: %w", err)
			}
		}

		record.MinutesLimit = minutes
		record.Version++
		record.UpdatedAt = time.Now()

		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, raw); err != nil {
			return err
		}
		return markStale(tx, userID, date)
	})
}

func (s *usageStore) AdjustLimits(ctx context.Context, userID, date string, adjustments []storage.LimitAdjustment, expectedVersions map[string]int64) error {
	if len(adjustments) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUsageRecords))

		// Verify every version before touching anything.
		records := make([]storage.DailyUsageRecord, len(adjustments))
		for i, adj := range adjustments {
			record := storage.DailyUsageRecord{
				UserID:   userID,
				App:      adj.App,
				Category: storage.CategoryOther,
				Date:     date,
			}
			if raw := bucket.Get(recordKey(userID, date, adj.App)); raw != nil {
				if err := json.Unmarshal(raw, &record); err != nil {
					return fmt.Errorf("corrupt usage record: %w", err)
				}
			}
			if record.Version != expectedVersions[adj.App] {
				return storage.ErrConflict
			}
			records[i] = record
		}

		for i, adj := range adjustments {
			records[i].MinutesLimit += adj.DeltaMinutes
			records[i].Version++
			records[i].UpdatedAt = time.Now()
			raw, err := json.Marshal(records[i])
			if err != nil {
				return err
			}
			if err := bucket.Put(recordKey(userID, date, adj.App), raw); err != nil {
				return err
			}
		}
		return markStale(tx, userID, date)
	})
}

func (s *usageStore) GetSummary(ctx context.Context, userID, date string) (*storage.DailySummary, error) {
	var summary storage.DailySummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketSummaries)).Get(summaryKey(userID, date))
		if raw == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(raw, &summary); err != nil {
			return fmt.Errorf("corrupt summary: %w", err)
		}
		summary.ScoreStale = tx.Bucket([]byte(bucketStaleScores)).Get(summaryKey(userID, date)) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *usageStore) PutSummary(ctx context.Context, summary storage.DailySummary) error {
	summary.ScoreStale = false
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := summaryKey(summary.UserID, summary.Date)
		if err := tx.Bucket([]byte(bucketSummaries)).Put(key, raw); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketStaleScores)).Delete(key)
	})
}

func (s *usageStore) MarkScoreStale(ctx context.Context, userID, date string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return markStale(tx, userID, date)
	})
}

func (s *usageStore) AppendOverrideEvent(ctx context.Context, event storage.OverrideEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := eventKey(event.UserID, event.Date, event.ID)
		if err := tx.Bucket([]byte(bucketOverrideEvents)).Put(key, raw); err != nil {
			return err
		}
		return markStale(tx, event.UserID, event.Date)
	})
}

func (s *usageStore) ListOverrideEvents(ctx context.Context, userID, date string) ([]storage.OverrideEvent, error) {
	events := []storage.OverrideEvent{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketOverrideEvents)).Cursor()
		prefix := dayPrefix(userID, date)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var event storage.OverrideEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("corrupt override event %q: %w", k, err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (s *usageStore) CountOverrideEvents(ctx context.Context, userID, endDate string, windowDays int) (int, error) {
	end, err := time.Parse(storage.DateFormat, endDate)
	if err != nil {
		return 0, fmt.Errorf("invalid end date: %w", err)
	}

	total := 0
	err = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketOverrideEvents)).Cursor()
		for i := 0; i < windowDays; i++ {
			date := end.AddDate(0, 0, -i).Format(storage.DateFormat)
			prefix := dayPrefix(userID, date)
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				total++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *usageStore) MarkApplied(ctx context.Context, decisionID string) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketApplied))
		if bucket.Get([]byte(decisionID)) != nil {
			return nil
		}
		applied = true
		return bucket.Put([]byte(decisionID), []byte(time.Now().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func markStale(tx *bbolt.Tx, userID, date string) error {
	return tx.Bucket([]byte(bucketStaleScores)).Put(summaryKey(userID, date), []byte("1"))
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/screenwise/screenwise/internal/storage"
)

const testDate = "2026-03-02"

func setupTestStore(t *testing.T) storage.UsageStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store.Usage()
}

func TestIncrementUsageCreatesAndAccumulates(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	if err := us.IncrementUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 30, "09:00"); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if err := us.IncrementUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 15, "09:00"); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	r, err := us.GetRecord(ctx, "u1", "slack", testDate)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if r.MinutesUsed != 45 {
		t.Errorf("minutes = %d, want 45", r.MinutesUsed)
	}
	if r.Version != 2 {
		t.Errorf("version = %d, want 2", r.Version)
	}
	// Duplicate hour labels collapse.
	if len(r.PeakHours) != 1 || r.PeakHours[0] != "09:00" {
		t.Errorf("peak hours = %v, want [09:00]", r.PeakHours)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	us := setupTestStore(t)
	if _, err := us.GetRecord(context.Background(), "u1", "nope", testDate); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDayIsolatesUsersAndDates(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	for _, app := range []string{"slack", "youtube"} {
		if err := us.IncrementUsage(ctx, "u1", app, storage.CategoryOther, testDate, 10, ""); err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
	}
	if err := us.IncrementUsage(ctx, "u2", "slack", storage.CategoryOther, testDate, 10, ""); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if err := us.IncrementUsage(ctx, "u1", "slack", storage.CategoryOther, "2026-03-03", 10, ""); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	records, err := us.ListDay(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("ListDay failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len = %d, want 2", len(records))
	}
}

func TestAdjustLimitsAtomicConflict(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	if err := us.SetLimit(ctx, "u1", "slack", testDate, 60); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	if err := us.SetLimit(ctx, "u1", "youtube", testDate, 90); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	slack, _ := us.GetRecord(ctx, "u1", "slack", testDate)
	youtube, _ := us.GetRecord(ctx, "u1", "youtube", testDate)

	good := map[string]int64{"slack": slack.Version, "youtube": youtube.Version}
	bad := map[string]int64{"slack": slack.Version, "youtube": 999}
	adjustments := []storage.LimitAdjustment{
		{App: "slack", DeltaMinutes: 30},
		{App: "youtube", DeltaMinutes: -30},
	}

	if err := us.AdjustLimits(ctx, "u1", testDate, adjustments, bad); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	slack, _ = us.GetRecord(ctx, "u1", "slack", testDate)
	if slack.MinutesLimit != 60 {
		t.Errorf("slack limit = %d, conflict must apply nothing", slack.MinutesLimit)
	}

	if err := us.AdjustLimits(ctx, "u1", testDate, adjustments, good); err != nil {
		t.Fatalf("AdjustLimits failed: %v", err)
	}
	slack, _ = us.GetRecord(ctx, "u1", "slack", testDate)
	youtube, _ = us.GetRecord(ctx, "u1", "youtube", testDate)
	if slack.MinutesLimit != 90 || youtube.MinutesLimit != 60 {
		t.Errorf("limits = %d/%d, want 90/60", slack.MinutesLimit, youtube.MinutesLimit)
	}
}

func TestSummaryStaleLifecycle(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	summary := storage.DailySummary{
		UserID: "u1", Date: testDate, TotalMinutes: 100,
		DailyLimitMinutes: 360, TrustScore: 95,
		CategoryMinutes: map[storage.Category]int{storage.CategoryEducation: 100},
	}
	if err := us.PutSummary(ctx, summary); err != nil {
		t.Fatalf("PutSummary failed: %v", err)
	}

	got, err := us.GetSummary(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if got.ScoreStale {
		t.Error("fresh summary reported stale")
	}

	if err := us.IncrementUsage(ctx, "u1", "khan", storage.CategoryEducation, testDate, 20, ""); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	got, err = us.GetSummary(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if !got.ScoreStale {
		t.Error("usage write must mark the summary stale")
	}
}

func TestOverrideEventsKeyedByID(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	event := storage.OverrideEvent{
		ID: "e1", UserID: "u1", App: "slack", Date: testDate,
		GrantedMinutes: 20, CreatedAt: time.Now(),
	}
	if err := us.AppendOverrideEvent(ctx, event); err != nil {
		t.Fatalf("AppendOverrideEvent failed: %v", err)
	}
	event.GrantedMinutes = 25
	if err := us.AppendOverrideEvent(ctx, event); err != nil {
		t.Fatalf("AppendOverrideEvent failed: %v", err)
	}

	events, err := us.ListOverrideEvents(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("ListOverrideEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].GrantedMinutes != 25 {
		t.Errorf("events = %+v, want single overwritten event", events)
	}

	n, err := us.CountOverrideEvents(ctx, "u1", testDate, 7)
	if err != nil {
		t.Fatalf("CountOverrideEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestMarkAppliedIdempotent(t *testing.T) {
	us := setupTestStore(t)
	ctx := context.Background()

	first, err := us.MarkApplied(ctx, "d1")
	if err != nil || !first {
		t.Fatalf("first MarkApplied = (%v, %v), want (true, nil)", first, err)
	}
	again, err := us.MarkApplied(ctx, "d1")
	if err != nil || again {
		t.Fatalf("second MarkApplied = (%v, %v), want (false, nil)", again, err)
	}
}

package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/metrics"
	"github.com/screenwise/screenwise/internal/override"
	"github.com/screenwise/screenwise/internal/storage"
	"github.com/screenwise/screenwise/internal/storage/bolt"
)

const testDate = "2026-03-02"

func newTestLedger(t *testing.T) (*Ledger, storage.UsageStore) {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store.Usage(), 360, zerolog.Nop()), store.Usage()
}

func TestRecordUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	l, us := newTestLedger(t)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 30, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 15, 14); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	r, err := us.GetRecord(ctx, "u1", "slack", testDate)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if r.MinutesUsed != 45 {
		t.Errorf("minutes = %d, want 45", r.MinutesUsed)
	}
	if len(r.PeakHours) != 2 || r.PeakHours[0] != "09:00" || r.PeakHours[1] != "14:00" {
		t.Errorf("peak hours = %v, want [09:00 14:00]", r.PeakHours)
	}
}

func TestRecordUsageZeroDeltaIsNoOp(t *testing.T) {
	ctx := context.Background()
	l, us := newTestLedger(t)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 0, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if _, err := us.GetRecord(ctx, "u1", "slack", testDate); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("a zero delta must not create a record, got err %v", err)
	}
}

func TestRecordUsageRejectsNegativeDelta(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.RecordUsage(context.Background(), "u1", "slack", storage.CategoryProductivity, testDate, -5, 9); !errors.Is(err, ErrNegativeDelta) {
		t.Errorf("err = %v, want ErrNegativeDelta", err)
	}
}

func TestGetDayNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.GetDay(context.Background(), "u1", testDate); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetSummaryRebuildsStaleScore(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 120, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := l.SetLimit(ctx, "u1", "slack", testDate, 100); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}

	s, err := l.GetSummary(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.ScoreStale {
		t.Error("summary still marked stale after read")
	}
	if s.TotalMinutes != 120 {
		t.Errorf("total = %d, want 120", s.TotalMinutes)
	}
	if s.AppsOverLimit != 1 {
		t.Errorf("apps over limit = %d, want 1", s.AppsOverLimit)
	}
	if s.CategoryMinutes[storage.CategoryProductivity] != 120 {
		t.Errorf("category minutes = %v", s.CategoryMinutes)
	}
	// 120 of 360 with one app over its own limit: 100 - 5. The
	// good-behavior bonus needs zero apps over, so it does not apply.
	if s.TrustScore != 95 {
		t.Errorf("trust score = %d, want 95", s.TrustScore)
	}
}

func TestRebuildCountsTowardMetric(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	before := testutil.ToFloat64(metrics.SummaryRebuilds)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 30, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if _, err := l.GetSummary(ctx, "u1", testDate); err != nil {
		t.Fatalf("GetSummary: %v", err)
	}

	if got := testutil.ToFloat64(metrics.SummaryRebuilds) - before; got != 1 {
		t.Errorf("summary rebuilds = %v, want 1", got)
	}
}

func TestGetSummaryEmptyDayNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.GetSummary(context.Background(), "u1", testDate); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetDailyLimitAndBehaviorCounters(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 60, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := l.SetDailyLimit(ctx, "u1", testDate, 240); err != nil {
		t.Fatalf("SetDailyLimit: %v", err)
	}
	if err := l.RecordBreak(ctx, "u1", testDate); err != nil {
		t.Fatalf("RecordBreak: %v", err)
	}
	if err := l.RecordFocusSession(ctx, "u1", testDate); err != nil {
		t.Fatalf("RecordFocusSession: %v", err)
	}

	s, err := l.GetSummary(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.DailyLimitMinutes != 240 {
		t.Errorf("daily limit = %d, want 240", s.DailyLimitMinutes)
	}
	if s.BreaksTaken != 1 || s.FocusSessions != 1 {
		t.Errorf("breaks = %d focus = %d, want 1 and 1", s.BreaksTaken, s.FocusSessions)
	}
}

func TestGetHistorySkipsEmptyDaysOldestFirst(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	// Usage on the 1st and 3rd, nothing on the 2nd.
	for _, date := range []string{"2026-03-01", "2026-03-03"} {
		if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, date, 90, 10); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	history, err := l.GetHistory(ctx, "u1", "2026-03-03", 7)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].Date != "2026-03-01" || history[1].Date != "2026-03-03" {
		t.Errorf("dates = [%s %s], want oldest first", history[0].Date, history[1].Date)
	}
	for _, s := range history {
		if s.ScoreStale {
			t.Errorf("day %s returned stale", s.Date)
		}
	}
}

func approvedDecision(id string, granted int) override.Decision {
	return override.Decision{
		ID:             id,
		Outcome:        override.OutcomeApproved,
		GrantedMinutes: granted,
		Confidence:     0.9,
		Request: override.Request{
			UserID:           "u1",
			App:              "slack",
			Category:         storage.CategoryProductivity,
			RequestedMinutes: granted,
			Date:             testDate,
			Hour:             14,
		},
		Signals:          classifier.Neutral(),
		ExpectedVersions: map[string]int64{"slack": 0},
	}
}

func TestApplyGrantBumpsLimitExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l, us := newTestLedger(t)

	if err := l.SetLimit(ctx, "u1", "slack", testDate, 60); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	r, err := us.GetRecord(ctx, "u1", "slack", testDate)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}

	d := approvedDecision("d1", 30)
	d.ExpectedVersions = map[string]int64{"slack": r.Version}

	if err := l.ApplyGrant(ctx, d); err != nil {
		t.Fatalf("ApplyGrant: %v", err)
	}
	// Retried commit of the same decision is absorbed by the
	// idempotency key.
	if err := l.ApplyGrant(ctx, d); err != nil {
		t.Fatalf("ApplyGrant retry: %v", err)
	}

	r, err = us.GetRecord(ctx, "u1", "slack", testDate)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if r.MinutesLimit != 90 {
		t.Errorf("limit = %d, want 90 after one grant", r.MinutesLimit)
	}
}

func TestApplyGrantAppliesRedistribution(t *testing.T) {
	ctx := context.Background()
	l, us := newTestLedger(t)

	if err := l.SetLimit(ctx, "u1", "slack", testDate, 60); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	if err := l.SetLimit(ctx, "u1", "youtube", testDate, 90); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	slack, _ := us.GetRecord(ctx, "u1", "slack", testDate)
	youtube, _ := us.GetRecord(ctx, "u1", "youtube", testDate)

	d := approvedDecision("d2", 30)
	d.Adjustments = []storage.LimitAdjustment{{App: "youtube", DeltaMinutes: -30}}
	d.ExpectedVersions = map[string]int64{"slack": slack.Version, "youtube": youtube.Version}

	if err := l.ApplyGrant(ctx, d); err != nil {
		t.Fatalf("ApplyGrant: %v", err)
	}

	slack, _ = us.GetRecord(ctx, "u1", "slack", testDate)
	youtube, _ = us.GetRecord(ctx, "u1", "youtube", testDate)
	if slack.MinutesLimit != 90 {
		t.Errorf("slack limit = %d, want 90", slack.MinutesLimit)
	}
	if youtube.MinutesLimit != 60 {
		t.Errorf("youtube limit = %d, want 60", youtube.MinutesLimit)
	}
}

func TestApplyGrantRetriesVersionRace(t *testing.T) {
	ctx := context.Background()
	l, us := newTestLedger(t)

	if err := l.SetLimit(ctx, "u1", "slack", testDate, 60); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}

	// Stale expected version: the record has moved since the snapshot.
	d := approvedDecision("d3", 20)
	d.ExpectedVersions = map[string]int64{"slack": 0}

	if err := l.ApplyGrant(ctx, d); err != nil {
		t.Fatalf("ApplyGrant should recover from a version race: %v", err)
	}
	r, err := us.GetRecord(ctx, "u1", "slack", testDate)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if r.MinutesLimit != 80 {
		t.Errorf("limit = %d, want 80", r.MinutesLimit)
	}
}

func TestRecordOverrideEventFeedsSummaryCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	if err := l.RecordUsage(ctx, "u1", "slack", storage.CategoryProductivity, testDate, 30, 9); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	event := storage.OverrideEvent{
		ID: "e1", UserID: "u1", App: "slack", Date: testDate,
		RequestedMinutes: 30, GrantedMinutes: 30, Approved: true,
	}
	if err := l.RecordOverrideEvent(ctx, event); err != nil {
		t.Fatalf("RecordOverrideEvent: %v", err)
	}
	// Same ID again overwrites rather than duplicates.
	if err := l.RecordOverrideEvent(ctx, event); err != nil {
		t.Fatalf("RecordOverrideEvent: %v", err)
	}

	s, err := l.GetSummary(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if s.OverrideCount != 1 {
		t.Errorf("override count = %d, want 1", s.OverrideCount)
	}

	n, err := l.CountRecentOverrides(ctx, "u1", testDate, 7)
	if err != nil {
		t.Fatalf("CountRecentOverrides: %v", err)
	}
	if n != 1 {
		t.Errorf("recent overrides = %d, want 1", n)
	}
}

package override

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/storage"
)

func baseRequest() Request {
	return Request{
		UserID:           "user-1",
		App:              "slack",
		Category:         storage.CategoryProductivity,
		RequestedMinutes: 30,
		Reason:           "I need to finish a work deadline",
		Date:             "2026-03-02",
		Hour:             14,
	}
}

func baseSnapshot() Snapshot {
	return Snapshot{
		TotalMinutesToday: 180,
		DailyLimitMinutes: 360,
		Apps: []AppUsage{
			{App: "slack", Category: storage.CategoryProductivity, MinutesUsed: 60, MinutesLimit: 120, Version: 3, LastUsed: time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)},
			{App: "youtube", Category: storage.CategoryEntertainment, MinutesUsed: 80, MinutesLimit: 90, Version: 7, LastUsed: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
			{App: "instagram", Category: storage.CategorySocial, MinutesUsed: 40, MinutesLimit: 60, Version: 2, LastUsed: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)},
		},
	}
}

func TestEvaluate_HighTrustUrgentWorkApproved(t *testing.T) {
	req := baseRequest()
	sig := classifier.Signals{WorkRelated: true, Urgency: classifier.UrgencyHigh, Quality: classifier.QualityGood}

	d, err := Evaluate(req, baseSnapshot(), 85, 0, sig)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %s, want %s", d.Outcome, OutcomeApproved)
	}
	if d.GrantedMinutes != 30 {
		t.Errorf("granted = %d, want 30", d.GrantedMinutes)
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", d.Confidence)
	}
	if len(d.Conditions) != 0 {
		t.Errorf("conditions = %v, want none", d.Conditions)
	}
}

func TestEvaluate_LowTrustOverLimitDenied(t *testing.T) {
	req := baseRequest()
	snap := baseSnapshot()
	snap.TotalMinutesToday = 540 // ratio 1.5

	d, err := Evaluate(req, snap, 20, 0, classifier.Signals{WorkRelated: true, Urgency: classifier.UrgencyHigh, Quality: classifier.QualityGood})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want %s", d.Outcome, OutcomeDenied)
	}
	if d.GrantedMinutes != 0 {
		t.Errorf("granted = %d, want 0", d.GrantedMinutes)
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", d.Confidence)
	}
}

func TestEvaluate_MidTrustCounterOffer(t *testing.T) {
	req := baseRequest()
	sig := classifier.Neutral()

	d, err := Evaluate(req, baseSnapshot(), 65, 0, sig)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeNegotiating {
		t.Fatalf("outcome = %s, want %s", d.Outcome, OutcomeNegotiating)
	}
	// Ceiling at trust 65 is 30, matching the request exactly.
	if d.GrantedMinutes != 30 {
		t.Errorf("granted = %d, want 30", d.GrantedMinutes)
	}
	if d.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", d.Confidence)
	}
	if len(d.Conditions) != 0 {
		t.Errorf("conditions = %v, want none", d.Conditions)
	}
}

func TestEvaluate_FrequentOverridesHalveTheGrant(t *testing.T) {
	req := baseRequest()

	d, err := Evaluate(req, baseSnapshot(), 65, 4, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeNegotiating {
		t.Fatalf("outcome = %s, want %s", d.Outcome, OutcomeNegotiating)
	}
	if d.GrantedMinutes != 15 {
		t.Errorf("granted = %d, want 15", d.GrantedMinutes)
	}
	found := false
	for _, c := range d.Conditions {
		if c == conditionLastOfDay {
			found = true
		}
	}
	if !found {
		t.Errorf("conditions = %v, want %q present", d.Conditions, conditionLastOfDay)
	}
}

func TestEvaluate_HalvedGrantFloor(t *testing.T) {
	req := baseRequest()
	req.RequestedMinutes = 8

	d, err := Evaluate(req, baseSnapshot(), 40, 5, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.GrantedMinutes != 5 {
		t.Errorf("granted = %d, want floor of 5", d.GrantedMinutes)
	}
}

func TestEvaluate_HardDenials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request, *Snapshot)
		trust  int
	}{
		{
			name:  "no daily limit configured",
			trust: 90,
			mutate: func(_ *Request, s *Snapshot) {
				s.DailyLimitMinutes = 0
			},
		},
		{
			name:  "usage far past the limit",
			trust: 90,
			mutate: func(_ *Request, s *Snapshot) {
				s.TotalMinutesToday = s.DailyLimitMinutes*13/10 + 1
			},
		},
		{
			name:   "trust below floor",
			trust:  25,
			mutate: func(_ *Request, _ *Snapshot) {},
		},
		{
			name:  "evening entertainment at low trust",
			trust: 45,
			mutate: func(r *Request, _ *Snapshot) {
				r.App = "youtube"
				r.Category = storage.CategoryEntertainment
				r.Hour = 21
			},
		},
		{
			name:  "late night social at low trust",
			trust: 45,
			mutate: func(r *Request, _ *Snapshot) {
				r.App = "instagram"
				r.Category = storage.CategorySocial
				r.Hour = 2
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			snap := baseSnapshot()
			tt.mutate(&req, &snap)

			d, err := Evaluate(req, snap, tt.trust, 0, classifier.Neutral())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Outcome != OutcomeDenied {
				t.Errorf("outcome = %s, want %s", d.Outcome, OutcomeDenied)
			}
			if d.GrantedMinutes != 0 {
				t.Errorf("granted = %d, want 0", d.GrantedMinutes)
			}
		})
	}
}

func TestEvaluate_EveningEntertainmentAtHighTrust(t *testing.T) {
	req := baseRequest()
	req.App = "youtube"
	req.Category = storage.CategoryEntertainment
	req.Hour = 21

	d, err := Evaluate(req, baseSnapshot(), 70, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeNegotiating {
		t.Errorf("outcome = %s, want %s at trust 70", d.Outcome, OutcomeNegotiating)
	}
}

func TestEvaluate_ReducedGrantCarriesCondition(t *testing.T) {
	req := baseRequest()
	req.RequestedMinutes = 60

	d, err := Evaluate(req, baseSnapshot(), 65, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.GrantedMinutes != 30 {
		t.Fatalf("granted = %d, want 30", d.GrantedMinutes)
	}
	if len(d.Conditions) != 1 || d.Conditions[0] != conditionReduced {
		t.Errorf("conditions = %v, want [%q]", d.Conditions, conditionReduced)
	}
}

func TestEvaluate_StaleSnapshotNeverApproves(t *testing.T) {
	req := baseRequest()
	snap := baseSnapshot()
	snap.Stale = true
	sig := classifier.Signals{WorkRelated: true, Urgency: classifier.UrgencyHigh, Quality: classifier.QualityExcellent}

	d, err := Evaluate(req, snap, 95, 0, sig)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeNegotiating {
		t.Fatalf("outcome = %s, want %s on stale snapshot", d.Outcome, OutcomeNegotiating)
	}
	if d.GrantedMinutes != 15 {
		t.Errorf("granted = %d, want 15", d.GrantedMinutes)
	}
	if d.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", d.Confidence)
	}
}

func TestEvaluate_StaleSnapshotLowTrustDenied(t *testing.T) {
	req := baseRequest()
	snap := baseSnapshot()
	snap.Stale = true

	d, err := Evaluate(req, snap, 20, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeDenied {
		t.Errorf("outcome = %s, want %s", d.Outcome, OutcomeDenied)
	}
}

func TestEvaluate_RedistributionTargetsColdestLeisureApp(t *testing.T) {
	req := baseRequest()
	snap := baseSnapshot()
	snap.TotalMinutesToday = 340 // ratio ~0.94

	d, err := Evaluate(req, snap, 85, 0, classifier.Signals{WorkRelated: true, Urgency: classifier.UrgencyHigh, Quality: classifier.QualityGood})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %s, want %s", d.Outcome, OutcomeApproved)
	}
	want := []storage.LimitAdjustment{{App: "youtube", DeltaMinutes: -30}}
	if !reflect.DeepEqual(d.Adjustments, want) {
		t.Errorf("adjustments = %v, want %v", d.Adjustments, want)
	}
	if v := d.ExpectedVersions["youtube"]; v != 7 {
		t.Errorf("expected version for youtube = %d, want 7", v)
	}
	if v := d.ExpectedVersions["slack"]; v != 3 {
		t.Errorf("expected version for slack = %d, want 3", v)
	}
}

func TestEvaluate_NoRedistributionBelowRatio(t *testing.T) {
	d, err := Evaluate(baseRequest(), baseSnapshot(), 65, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(d.Adjustments) != 0 {
		t.Errorf("adjustments = %v, want none at ratio 0.5", d.Adjustments)
	}
}

func TestEvaluate_RedistributionNeverTargetsRequestedApp(t *testing.T) {
	req := baseRequest()
	req.App = "youtube"
	req.Category = storage.CategoryEntertainment
	req.Hour = 14
	snap := baseSnapshot()
	snap.TotalMinutesToday = 340

	d, err := Evaluate(req, snap, 85, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for _, adj := range d.Adjustments {
		if adj.App == "youtube" {
			t.Errorf("adjustment targets the requested app: %v", adj)
		}
	}
}

func TestEvaluate_UnknownAppExpectedVersionZero(t *testing.T) {
	req := baseRequest()
	req.App = "figma"

	d, err := Evaluate(req, baseSnapshot(), 65, 0, classifier.Neutral())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	v, ok := d.ExpectedVersions["figma"]
	if !ok || v != 0 {
		t.Errorf("expected version for unseen app = %d (present %v), want 0", v, ok)
	}
}

func TestEvaluate_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"zero minutes", func(r *Request) { r.RequestedMinutes = 0 }},
		{"negative minutes", func(r *Request) { r.RequestedMinutes = -10 }},
		{"empty app", func(r *Request) { r.App = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(&req)
			if _, err := Evaluate(req, baseSnapshot(), 80, 0, classifier.Neutral()); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	req := baseRequest()
	snap := baseSnapshot()
	snap.TotalMinutesToday = 340
	sig := classifier.Signals{WorkRelated: true, Urgency: classifier.UrgencyMedium, Quality: classifier.QualityGood}

	first, err := Evaluate(req, snap, 72, 2, sig)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Evaluate(req, snap, 72, 2, sig)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst = %+v\nagain = %+v", i, first, again)
		}
	}
}

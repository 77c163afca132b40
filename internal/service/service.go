// Package service is the caller-facing surface of the screen time
// core. It wires the ledger, trust scoring, pattern analysis, the
// justification classifier, and the override arbiter together behind
// one API, serializing work per (user, day).
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/coach"
	"github.com/screenwise/screenwise/internal/ledger"
	"github.com/screenwise/screenwise/internal/metrics"
	"github.com/screenwise/screenwise/internal/override"
	"github.com/screenwise/screenwise/internal/patterns"
	"github.com/screenwise/screenwise/internal/storage"
	"github.com/screenwise/screenwise/internal/trust"
)

// ErrSessionNotFound is returned when resolving a decision that has no
// open session, either because it never negotiated or already expired.
var ErrSessionNotFound = errors.New("service: override session not found")

// ErrDeltaTooLarge is returned when a single usage update exceeds the
// configured ceiling.
var ErrDeltaTooLarge = errors.New("service: usage delta too large")

const (
	trendCacheSize    = 1024
	resolvedCacheSize = 4096
)

// Options configures a Service.
type Options struct {
	Classifier         classifier.Classifier
	Clock              override.Clock
	SessionTTL         time.Duration
	OverrideWindowDays int
	TrendWindowDays    int
	MaxDeltaMinutes    int
	Logger             zerolog.Logger
}

// Service coordinates all screen time operations for the API layer.
type Service struct {
	ledger     *ledger.Ledger
	classifier classifier.Classifier
	registry   *override.Registry
	clock      override.Clock
	logger     zerolog.Logger

	overrideWindowDays int
	trendWindowDays    int
	maxDeltaMinutes    int

	// trendCache memoizes trend trust scores per (user, date); any
	// write for the user drops their entries.
	trendCache *lru.Cache[string, int]

	// resolved remembers settled decision IDs after their session is
	// gone, so a repeat resolve reports ErrAlreadyResolved rather
	// than a missing session.
	resolved *lru.Cache[string, struct{}]

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(l *ledger.Ledger, opts Options) (*Service, error) {
	if opts.Classifier == nil {
		opts.Classifier = classifier.NewRuleClassifier(nil)
	}
	if opts.Clock == nil {
		opts.Clock = override.RealClock{}
	}
	if opts.OverrideWindowDays <= 0 {
		opts.OverrideWindowDays = 7
	}
	if opts.TrendWindowDays <= 0 {
		opts.TrendWindowDays = trust.DefaultWindowDays
	}
	if opts.MaxDeltaMinutes <= 0 {
		opts.MaxDeltaMinutes = 240
	}

	cache, err := lru.New[string, int](trendCacheSize)
	if err != nil {
		return nil, fmt.Errorf("trend cache: %w", err)
	}
	resolved, err := lru.New[string, struct{}](resolvedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolved cache: %w", err)
	}

	s := &Service{
		ledger:             l,
		classifier:         opts.Classifier,
		clock:              opts.Clock,
		logger:             opts.Logger.With().Str("component", "service").Logger(),
		overrideWindowDays: opts.OverrideWindowDays,
		trendWindowDays:    opts.TrendWindowDays,
		maxDeltaMinutes:    opts.MaxDeltaMinutes,
		trendCache:         cache,
		resolved:           resolved,
		locks:              make(map[string]*sync.Mutex),
	}
	s.registry = override.NewRegistry(opts.Clock, s, opts.SessionTTL, opts.Logger)
	return s, nil
}

// Run drives background work, currently the session expiry sweeper,
// until the context ends.
func (s *Service) Run(ctx context.Context, sweepInterval time.Duration) {
	s.registry.Run(ctx, sweepInterval)
}

// SweepSessions expires unanswered sessions once. Exposed for the
// server loop and tests.
func (s *Service) SweepSessions(ctx context.Context) int {
	n := s.registry.SweepExpired(ctx)
	if n > 0 {
		metrics.SessionsExpired.Add(float64(n))
	}
	metrics.NegotiationSessionsActive.Set(float64(s.registry.Len()))
	return n
}

// dayLock serializes all mutations and evaluations for one user day.
func (s *Service) dayLock(userID, date string) *sync.Mutex {
	key := userID + "|" + date
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

func (s *Service) invalidateTrend(userID string) {
	for _, key := range s.trendCache.Keys() {
		if len(key) > len(userID) && key[:len(userID)] == userID && key[len(userID)] == '|' {
			s.trendCache.Remove(key)
		}
	}
}

// fillRequestTime defaults the request's date and hour from the clock.
func (s *Service) fillRequestTime(req *override.Request) {
	now := s.clock.Now()
	if req.Date == "" {
		req.Date = now.Format(storage.DateFormat)
	}
	if req.Hour < 0 || req.Hour > 23 {
		req.Hour = now.Hour()
	}
}

// RecordUsage adds usage minutes for an app. The hour is taken from
// the clock when the caller passes one outside [0,23].
func (s *Service) RecordUsage(ctx context.Context, userID, app string, category storage.Category, date string, minutes, hour int) error {
	if minutes > s.maxDeltaMinutes {
		return fmt.Errorf("%w: %d minutes in one update", ErrDeltaTooLarge, minutes)
	}
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	if hour < 0 || hour > 23 {
		hour = s.clock.Now().Hour()
	}

	mu := s.dayLock(userID, date)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ledger.RecordUsage(ctx, userID, app, category, date, minutes, hour); err != nil {
		return err
	}
	metrics.UsageMinutesRecorded.WithLabelValues(string(category)).Add(float64(minutes))
	s.invalidateTrend(userID)
	return nil
}

// SetLimit sets an app's daily limit.
func (s *Service) SetLimit(ctx context.Context, userID, app, date string, minutes int) error {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	mu := s.dayLock(userID, date)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ledger.SetLimit(ctx, userID, app, date, minutes); err != nil {
		return err
	}
	s.invalidateTrend(userID)
	return nil
}

// SetDailyLimit sets the aggregate daily budget.
func (s *Service) SetDailyLimit(ctx context.Context, userID, date string, minutes int) error {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	mu := s.dayLock(userID, date)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ledger.SetDailyLimit(ctx, userID, date, minutes); err != nil {
		return err
	}
	s.invalidateTrend(userID)
	return nil
}

// RecordBreak notes a screen break for the day.
func (s *Service) RecordBreak(ctx context.Context, userID, date string) error {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	mu := s.dayLock(userID, date)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ledger.RecordBreak(ctx, userID, date); err != nil {
		return err
	}
	s.invalidateTrend(userID)
	return nil
}

// RecordFocusSession notes a completed focus session for the day.
func (s *Service) RecordFocusSession(ctx context.Context, userID, date string) error {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	mu := s.dayLock(userID, date)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ledger.RecordFocusSession(ctx, userID, date); err != nil {
		return err
	}
	s.invalidateTrend(userID)
	return nil
}

// GetDay returns the raw usage records for a user's day.
func (s *Service) GetDay(ctx context.Context, userID, date string) ([]storage.DailyUsageRecord, error) {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	return s.ledger.GetDay(ctx, userID, date)
}

// TrustScore is a user's standing for one day.
type TrustScore struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Daily  int    `json:"daily"`
	Trend  int    `json:"trend"`
}

// GetTrustScore returns the daily and trend trust scores. Days without
// data score neutral.
func (s *Service) GetTrustScore(ctx context.Context, userID, date string) (TrustScore, error) {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}

	score := TrustScore{UserID: userID, Date: date, Daily: trust.NeutralScore}
	summary, err := s.ledger.GetSummary(ctx, userID, date)
	switch {
	case err == nil:
		score.Daily = summary.TrustScore
	case errors.Is(err, storage.ErrNotFound):
	default:
		return TrustScore{}, err
	}

	trend, err := s.trendScore(ctx, userID, date)
	if err != nil {
		return TrustScore{}, err
	}
	score.Trend = trend
	return score, nil
}

func (s *Service) trendScore(ctx context.Context, userID, date string) (int, error) {
	key := userID + "|" + date
	if cached, ok := s.trendCache.Get(key); ok {
		return cached, nil
	}

	history, err := s.ledger.GetHistory(ctx, userID, date, s.trendWindowDays)
	if err != nil {
		return 0, err
	}
	trend := trust.ComputeTrendScore(history, s.trendWindowDays)
	s.trendCache.Add(key, trend)
	return trend, nil
}

// GetUsagePatterns analyzes a trailing window of days ending at date.
func (s *Service) GetUsagePatterns(ctx context.Context, userID, date string, windowDays int) (patterns.Patterns, error) {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}
	days, err := s.loadDays(ctx, userID, date, windowDays)
	if err != nil {
		return patterns.Patterns{}, err
	}
	return patterns.Analyze(days), nil
}

func (s *Service) loadDays(ctx context.Context, userID, endDate string, windowDays int) ([]patterns.Day, error) {
	if windowDays <= 0 {
		windowDays = s.trendWindowDays
	}
	history, err := s.ledger.GetHistory(ctx, userID, endDate, windowDays)
	if err != nil {
		return nil, err
	}

	days := make([]patterns.Day, 0, len(history))
	for _, summary := range history {
		records, err := s.ledger.GetDay(ctx, userID, summary.Date)
		if errors.Is(err, storage.ErrNotFound) {
			records = nil
		} else if err != nil {
			return nil, err
		}
		days = append(days, patterns.Day{Summary: summary, Records: records})
	}
	return days, nil
}

// EvaluateOverride runs the full decision pipeline for one request and
// returns the decision. Approved and Negotiating decisions stay open in
// the session registry until ResolveOverride settles them.
func (s *Service) EvaluateOverride(ctx context.Context, req override.Request) (override.Decision, error) {
	started := time.Now()
	s.fillRequestTime(&req)

	mu := s.dayLock(req.UserID, req.Date)
	mu.Lock()
	defer mu.Unlock()

	snap := s.buildSnapshot(ctx, req.UserID, req.Date)

	trustScore, err := s.trendScore(ctx, req.UserID, req.Date)
	if err != nil {
		return override.Decision{}, err
	}
	recent, err := s.ledger.CountRecentOverrides(ctx, req.UserID, req.Date, s.overrideWindowDays)
	if err != nil {
		return override.Decision{}, err
	}

	sig := s.classify(ctx, req, trustScore, recent)

	decision, err := override.Evaluate(req, snap, trustScore, recent, sig)
	if err != nil {
		return override.Decision{}, err
	}
	decision.ID = uuid.NewString()

	metrics.OverridesEvaluated.WithLabelValues(string(decision.Outcome)).Inc()
	metrics.EvaluateDuration.Observe(time.Since(started).Seconds())

	if decision.Outcome == override.OutcomeDenied {
		// Nothing to resolve; the denial goes straight into the event
		// history.
		if err := s.recordEvent(ctx, decision, false); err != nil {
			return override.Decision{}, err
		}
	} else {
		s.registry.Add(decision)
		metrics.NegotiationSessionsActive.Set(float64(s.registry.Len()))
	}

	s.logger.Info().
		Str("decision_id", decision.ID).
		Str("user_id", req.UserID).
		Str("app", req.App).
		Str("outcome", string(decision.Outcome)).
		Int("granted_minutes", decision.GrantedMinutes).
		Float64("confidence", decision.Confidence).
		Msg("evaluated override request")
	return decision, nil
}

// buildSnapshot reads the user's current day. Read failures degrade to
// a stale snapshot instead of failing the evaluation; the arbiter then
// refuses to fully approve.
func (s *Service) buildSnapshot(ctx context.Context, userID, date string) override.Snapshot {
	var snap override.Snapshot

	summary, err := s.ledger.GetSummary(ctx, userID, date)
	switch {
	case err == nil:
		snap.TotalMinutesToday = summary.TotalMinutes
		snap.DailyLimitMinutes = summary.DailyLimitMinutes
	case errors.Is(err, storage.ErrNotFound):
		snap.DailyLimitMinutes = ledger.DefaultDailyLimit
	default:
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("summary read failed, degrading to stale snapshot")
		snap.Stale = true
		return snap
	}

	records, err := s.ledger.GetDay(ctx, userID, date)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("day read failed, degrading to stale snapshot")
		snap.Stale = true
		return snap
	}
	for _, r := range records {
		snap.Apps = append(snap.Apps, override.AppUsage{
			App:          r.App,
			Category:     r.Category,
			MinutesUsed:  r.MinutesUsed,
			MinutesLimit: r.MinutesLimit,
			Version:      r.Version,
			LastUsed:     r.UpdatedAt,
		})
	}
	return snap
}

func (s *Service) classify(ctx context.Context, req override.Request, trustScore, recent int) classifier.Signals {
	sig, err := s.classifier.Classify(ctx, req.Reason, classifier.Context{
		App:             req.App,
		Hour:            req.Hour,
		TrustScore:      trustScore,
		RecentOverrides: recent,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("classifier failed, using neutral signals")
		metrics.ClassifierFallbacks.Inc()
		return classifier.Neutral()
	}
	return sig
}

// ResolveOverride settles an open decision. Accepting an Approved or
// Negotiating decision applies its grant exactly once; declining, or
// letting the session expire, records the refusal.
func (s *Service) ResolveOverride(ctx context.Context, decisionID string, accept bool) error {
	session, ok := s.registry.Get(decisionID)
	if !ok {
		if _, settled := s.resolved.Get(decisionID); settled {
			return override.ErrAlreadyResolved
		}
		return ErrSessionNotFound
	}

	mu := s.dayLock(session.Decision.Request.UserID, session.Decision.Request.Date)
	mu.Lock()
	defer mu.Unlock()

	err := session.Resolve(ctx, s, accept)
	if err != nil && !errors.Is(err, override.ErrAlreadyResolved) {
		return err
	}
	s.registry.Remove(decisionID)
	s.resolved.Add(decisionID, struct{}{})
	metrics.NegotiationSessionsActive.Set(float64(s.registry.Len()))
	if errors.Is(err, override.ErrAlreadyResolved) {
		return err
	}

	resolution := "declined"
	if accept {
		resolution = "accepted"
	}
	metrics.OverridesResolved.WithLabelValues(resolution).Inc()
	return nil
}

// CommitGrant implements override.Committer.
func (s *Service) CommitGrant(ctx context.Context, decision override.Decision) error {
	if err := s.ledger.ApplyGrant(ctx, decision); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.StorageConflicts.Inc()
		}
		return err
	}
	s.invalidateTrend(decision.Request.UserID)
	return nil
}

// RecordResolution implements override.Committer.
func (s *Service) RecordResolution(ctx context.Context, decision override.Decision, accepted bool) error {
	return s.recordEvent(ctx, decision, accepted)
}

func (s *Service) recordEvent(ctx context.Context, decision override.Decision, accepted bool) error {
	granted := 0
	if accepted {
		granted = decision.GrantedMinutes
	}
	event := storage.OverrideEvent{
		ID:               decision.ID,
		UserID:           decision.Request.UserID,
		App:              decision.Request.App,
		Date:             decision.Request.Date,
		RequestedMinutes: decision.Request.RequestedMinutes,
		GrantedMinutes:   granted,
		Reason:           decision.Request.Reason,
		WorkRelated:      decision.Signals.WorkRelated,
		Urgency:          string(decision.Signals.Urgency),
		Quality:          string(decision.Signals.Quality),
		Approved:         accepted,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.ledger.RecordOverrideEvent(ctx, event); err != nil {
		return err
	}
	s.invalidateTrend(decision.Request.UserID)
	return nil
}

// Coach produces a coaching response grounded in today's usage state.
func (s *Service) Coach(ctx context.Context, userID, date, input string) (coach.Response, error) {
	if date == "" {
		date = s.clock.Now().Format(storage.DateFormat)
	}

	state := coach.State{}
	summary, err := s.ledger.GetSummary(ctx, userID, date)
	switch {
	case err == nil:
		state.TrustScore = summary.TrustScore
		state.TotalMinutesToday = summary.TotalMinutes
		state.DailyLimitMinutes = summary.DailyLimitMinutes
	case errors.Is(err, storage.ErrNotFound):
		state.TrustScore = trust.NeutralScore
	default:
		return coach.Response{}, err
	}

	p, err := s.GetUsagePatterns(ctx, userID, date, s.trendWindowDays)
	if err != nil {
		return coach.Response{}, err
	}
	state.Suggestions = p.Suggestions

	return coach.Respond(input, state), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/config"
	"github.com/screenwise/screenwise/internal/ledger"
	"github.com/screenwise/screenwise/internal/override"
	"github.com/screenwise/screenwise/internal/storage"
	"github.com/screenwise/screenwise/internal/trust"
)

var (
	checkUser     string
	checkApp      string
	checkCategory string
	checkMinutes  int
	checkReason   string
	checkDate     string
	checkHour     int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check arbiter decisions interactively",
	Long:  `Check what ScreenWise would decide for an override request, or inspect a user's trust score, without going through the API.`,
}

var checkOverrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Check an override decision",
	Long:  `Evaluate an override request against current stored usage and print the decision. Nothing is granted; this is a dry run.`,
	Example: `  screenwise -c config.yaml check override --user alice --app slack --minutes 30 --reason "urgent work deadline"
  screenwise check override --user alice --app youtube --category entertainment --minutes 45 --hour 21`,
	RunE: runCheckOverride,
}

var checkScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Check a user's trust score",
	Long:  `Print the daily and trend trust scores for a user.`,
	Example: `  screenwise -c config.yaml check score --user alice
  screenwise check score --user alice --date 2026-03-01`,
	RunE: runCheckScore,
}

func init() {
	checkOverrideCmd.Flags().StringVar(&checkUser, "user", "", "User ID (required)")
	checkOverrideCmd.Flags().StringVar(&checkApp, "app", "", "App requesting more time (required)")
	checkOverrideCmd.Flags().StringVar(&checkCategory, "category", "other", "App category (social, entertainment, productivity, ...)")
	checkOverrideCmd.Flags().IntVar(&checkMinutes, "minutes", 30, "Requested extra minutes")
	checkOverrideCmd.Flags().StringVar(&checkReason, "reason", "", "Justification text")
	checkOverrideCmd.Flags().StringVar(&checkDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	checkOverrideCmd.Flags().IntVar(&checkHour, "hour", -1, "Hour of day (0-23) - defaults to current hour")
	checkOverrideCmd.MarkFlagRequired("user")
	checkOverrideCmd.MarkFlagRequired("app")

	checkScoreCmd.Flags().StringVar(&checkUser, "user", "", "User ID (required)")
	checkScoreCmd.Flags().StringVar(&checkDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	checkScoreCmd.MarkFlagRequired("user")

	checkCmd.AddCommand(checkOverrideCmd)
	checkCmd.AddCommand(checkScoreCmd)
	rootCmd.AddCommand(checkCmd)
}

// openCheckLedger opens storage for one-off inspection with a quiet logger.
func openCheckLedger() (*ledger.Ledger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	l := ledger.New(store.Usage(), cfg.Arbiter.DefaultDailyMinutes, logger)
	return l, func() { _ = store.Close() }, nil
}

func runCheckOverride(cmd *cobra.Command, args []string) error {
	l, closeStore, err := openCheckLedger()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	now := time.Now()
	date := checkDate
	if date == "" {
		date = now.Format(storage.DateFormat)
	}
	hour := checkHour
	if hour < 0 || hour > 23 {
		hour = now.Hour()
	}

	req := override.Request{
		UserID:           checkUser,
		App:              checkApp,
		Category:         storage.ParseCategory(checkCategory),
		RequestedMinutes: checkMinutes,
		Reason:           checkReason,
		Date:             date,
		Hour:             hour,
	}

	snap := loadSnapshot(ctx, l, checkUser, date)

	history, err := l.GetHistory(ctx, checkUser, date, trust.DefaultWindowDays)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	trustScore := trust.ComputeTrendScore(history, trust.DefaultWindowDays)

	recent, err := l.CountRecentOverrides(ctx, checkUser, date, 7)
	if err != nil {
		return fmt.Errorf("failed to count overrides: %w", err)
	}

	sig, _ := classifier.NewRuleClassifier(nil).Classify(ctx, checkReason, classifier.Context{
		App:             checkApp,
		Hour:            hour,
		TrustScore:      trustScore,
		RecentOverrides: recent,
	})

	decision, err := override.Evaluate(req, snap, trustScore, recent, sig)
	if err != nil {
		return err
	}

	printDecision(decision, trustScore, recent, snap)
	return nil
}

func loadSnapshot(ctx context.Context, l *ledger.Ledger, userID, date string) override.Snapshot {
	var snap override.Snapshot

	summary, err := l.GetSummary(ctx, userID, date)
	switch {
	case err == nil:
		snap.TotalMinutesToday = summary.TotalMinutes
		snap.DailyLimitMinutes = summary.DailyLimitMinutes
	case errors.Is(err, storage.ErrNotFound):
		snap.DailyLimitMinutes = ledger.DefaultDailyLimit
	default:
		snap.Stale = true
		return snap
	}

	records, err := l.GetDay(ctx, userID, date)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
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

func printDecision(d override.Decision, trustScore, recent int, snap override.Snapshot) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Printf("Request:   %s wants %d more minutes for %s (%s)\n",
		d.Request.UserID, d.Request.RequestedMinutes, d.Request.App, d.Request.Category)
	fmt.Printf("Context:   trust %d, %d overrides this week, %d/%d minutes used today\n",
		trustScore, recent, snap.TotalMinutesToday, snap.DailyLimitMinutes)
	if snap.Stale {
		yellow.Println("Warning:   usage snapshot unavailable, decision is conservative")
	}

	fmt.Print("Decision:  ")
	switch d.Outcome {
	case override.OutcomeApproved:
		green.Printf("APPROVED (%d minutes)\n", d.GrantedMinutes)
	case override.OutcomeNegotiating:
		yellow.Printf("NEGOTIATING (counter-offer: %d minutes)\n", d.GrantedMinutes)
	default:
		red.Println("DENIED")
	}

	fmt.Printf("Rationale: %s\n", d.Rationale)
	fmt.Printf("Confidence: %.1f\n", d.Confidence)
	for _, c := range d.Conditions {
		fmt.Printf("Condition: %s\n", c)
	}
	for _, adj := range d.Adjustments {
		fmt.Printf("Trade-off: %s loses %d minutes\n", adj.App, -adj.DeltaMinutes)
	}
}

func runCheckScore(cmd *cobra.Command, args []string) error {
	l, closeStore, err := openCheckLedger()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	date := checkDate
	if date == "" {
		date = time.Now().Format(storage.DateFormat)
	}

	daily := trust.NeutralScore
	var summary storage.DailySummary
	haveSummary := false
	summary, err = l.GetSummary(ctx, checkUser, date)
	switch {
	case err == nil:
		daily = summary.TrustScore
		haveSummary = true
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("failed to load summary: %w", err)
	}

	history, err := l.GetHistory(ctx, checkUser, date, trust.DefaultWindowDays)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	trend := trust.ComputeTrendScore(history, trust.DefaultWindowDays)

	fmt.Printf("Trust score for %s on %s\n", checkUser, date)
	printScore("Daily", daily)
	printScore("Trend", trend)

	if haveSummary {
		fmt.Printf("\nToday:     %d/%d minutes", summary.TotalMinutes, summary.DailyLimitMinutes)
		if summary.AppsOverLimit > 0 {
			fmt.Printf(", %d app(s) over limit", summary.AppsOverLimit)
		}
		fmt.Println()
		fmt.Printf("Behavior:  %d break(s), %d focus session(s), %d override(s)\n",
			summary.BreaksTaken, summary.FocusSessions, summary.OverrideCount)
	} else {
		fmt.Println("\nNo usage recorded for this day.")
	}
	return nil
}

func printScore(label string, score int) {
	var c *color.Color
	switch {
	case score >= 80:
		c = color.New(color.FgGreen, color.Bold)
	case score >= 50:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	fmt.Printf("%s:     ", label)
	c.Printf("%d/100\n", score)
}

package override

import (
	"fmt"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/storage"
)

const (
	hardDenyUsageRatio = 1.2
	hardDenyTrustFloor = 30
	eveningTrustFloor  = 50
	hardApproveTrust   = 60

	ceilingHighTrust = 45 // trust > 80
	ceilingMidTrust  = 30 // trust > 60
	ceilingLowTrust  = 15

	redistributionRatio = 0.9
	recentOverrideCap   = 3
	minGrantMinutes     = 5

	confidenceHardPath   = 0.9
	confidenceNegotiated = 0.7
	confidenceFallback   = 0.5

	conditionReduced    = "This is reduced from your request to maintain balance."
	conditionLastOfDay  = "This is your limit for today"
)

// eveningWindow reports whether the hour falls in the evening-night
// window where entertainment and social requests face a higher trust
// bar.
func eveningWindow(hour int) bool {
	return hour >= 18 || hour < 6
}

// grantCeiling is the most the arbiter will hand out in one override at
// a given trust level.
func grantCeiling(trustScore int) int {
	switch {
	case trustScore > 80:
		return ceilingHighTrust
	case trustScore > 60:
		return ceilingMidTrust
	default:
		return ceilingLowTrust
	}
}

// Evaluate decides one override request. It is a pure function of its
// arguments: same inputs always produce the same Decision. The returned
// Decision carries no ID; the caller assigns one before creating a
// session.
func Evaluate(req Request, snap Snapshot, trustScore, recentOverrides int, sig classifier.Signals) (Decision, error) {
	if req.RequestedMinutes <= 0 || req.App == "" {
		return Decision{}, ErrInvalidRequest
	}

	d := Decision{
		Request: req,
		Signals: sig,
	}

	// Unknown state must never silently grant full access: a snapshot
	// the caller could not load caps the offer at the minimum ceiling.
	if snap.Stale {
		if trustScore < hardDenyTrustFloor {
			return deny(d, confidenceHardPath,
				fmt.Sprintf("Trust score %d is below the minimum of %d.", trustScore, hardDenyTrustFloor)), nil
		}
		d.Outcome = OutcomeNegotiating
		d.GrantedMinutes = min(req.RequestedMinutes, ceilingLowTrust)
		d.Confidence = confidenceFallback
		d.Rationale = "Current usage could not be verified, so only a minimal extension is on offer."
		if req.RequestedMinutes > d.GrantedMinutes {
			d.Conditions = append(d.Conditions, conditionReduced)
		}
		return d, nil
	}

	noLimit := snap.DailyLimitMinutes <= 0
	var usageRatio float64
	if !noLimit {
		usageRatio = float64(snap.TotalMinutesToday) / float64(snap.DailyLimitMinutes)
	}

	// Hard-deny conditions are non-negotiable.
	switch {
	case noLimit:
		return deny(d, confidenceHardPath,
			"No daily limit is configured for today, so overrides cannot be evaluated."), nil
	case usageRatio > hardDenyUsageRatio:
		return deny(d, confidenceHardPath,
			fmt.Sprintf("Today's usage is already %.0f%% of the daily limit.", usageRatio*100)), nil
	case trustScore < hardDenyTrustFloor:
		return deny(d, confidenceHardPath,
			fmt.Sprintf("Trust score %d is below the minimum of %d.", trustScore, hardDenyTrustFloor)), nil
	case leisureCategory(req.Category) && eveningWindow(req.Hour) && trustScore < eveningTrustFloor:
		return deny(d, confidenceHardPath,
			fmt.Sprintf("%s requests during evening hours need a trust score of at least %d.", req.Category, eveningTrustFloor)), nil
	}

	ceiling := grantCeiling(trustScore)

	// Hard approve: credible, urgent work at decent standing.
	if sig.WorkRelated && sig.Urgency == classifier.UrgencyHigh && trustScore >= hardApproveTrust {
		d.Outcome = OutcomeApproved
		d.GrantedMinutes = min(req.RequestedMinutes, ceiling)
		d.Confidence = confidenceHardPath
		d.Rationale = fmt.Sprintf("Approved: urgent work-related request with trust score %d.", trustScore)
		if req.RequestedMinutes > d.GrantedMinutes {
			d.Conditions = append(d.Conditions, conditionReduced)
		}
		attachRedistribution(&d, snap, usageRatio)
		captureVersions(&d, snap)
		return d, nil
	}

	// Everything else becomes a counter-offer.
	d.Outcome = OutcomeNegotiating
	d.GrantedMinutes = min(req.RequestedMinutes, ceiling)
	d.Confidence = confidenceNegotiated
	d.Rationale = fmt.Sprintf("Counter-offer of %d minutes based on trust score %d.", d.GrantedMinutes, trustScore)
	if req.RequestedMinutes > d.GrantedMinutes {
		d.Conditions = append(d.Conditions, conditionReduced)
	}
	if recentOverrides >= recentOverrideCap {
		d.GrantedMinutes = d.GrantedMinutes / 2
		if d.GrantedMinutes < minGrantMinutes {
			d.GrantedMinutes = minGrantMinutes
		}
		d.Conditions = append(d.Conditions, conditionLastOfDay)
		d.Rationale = fmt.Sprintf("Counter-offer of %d minutes: %d overrides already this week.", d.GrantedMinutes, recentOverrides)
	}
	attachRedistribution(&d, snap, usageRatio)
	captureVersions(&d, snap)
	return d, nil
}

func deny(d Decision, confidence float64, rationale string) Decision {
	d.Outcome = OutcomeDenied
	d.GrantedMinutes = 0
	d.Confidence = confidence
	d.Rationale = "Denied: " + rationale
	return d
}

func leisureCategory(c storage.Category) bool {
	return c == storage.CategorySocial || c == storage.CategoryEntertainment
}

// attachRedistribution proposes funding the grant by trimming the
// least-recently-used social or entertainment app, keeping the day's
// aggregate budget constant. Proposal only; applied on accept.
func attachRedistribution(d *Decision, snap Snapshot, usageRatio float64) {
	if usageRatio <= redistributionRatio || d.GrantedMinutes <= 0 {
		return
	}

	var donor *AppUsage
	for i := range snap.Apps {
		app := &snap.Apps[i]
		if app.App == d.Request.App || !leisureCategory(app.Category) || app.MinutesLimit <= 0 {
			continue
		}
		if donor == nil || app.LastUsed.Before(donor.LastUsed) {
			donor = app
		}
	}
	if donor == nil {
		return
	}

	d.Adjustments = append(d.Adjustments, storage.LimitAdjustment{
		App:          donor.App,
		DeltaMinutes: -d.GrantedMinutes,
	})
}

// captureVersions records the snapshot versions of every record a
// commit will touch, for optimistic concurrency at resolve time.
func captureVersions(d *Decision, snap Snapshot) {
	d.ExpectedVersions = make(map[string]int64)
	touched := map[string]bool{d.Request.App: true}
	for _, adj := range d.Adjustments {
		touched[adj.App] = true
	}
	for _, app := range snap.Apps {
		if touched[app.App] {
			d.ExpectedVersions[app.App] = app.Version
		}
	}
	// Apps a commit touches but the snapshot never saw are expected to
	// not exist yet.
	for app := range touched {
		if _, ok := d.ExpectedVersions[app]; !ok {
			d.ExpectedVersions[app] = 0
		}
	}
}

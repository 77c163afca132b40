package override

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/storage"
)

// ErrInvalidRequest is returned for requests the arbiter cannot
// evaluate: non-positive minutes, missing app.
var ErrInvalidRequest = errors.New("override: invalid request")

// ErrAlreadyResolved is returned when accept or decline is called on a
// session that already reached a terminal state.
var ErrAlreadyResolved = errors.New("override: session already resolved")

// Outcome is the arbiter's verdict on an override request.
type Outcome string

const (
	OutcomeApproved    Outcome = "APPROVED"
	OutcomeDenied      Outcome = "DENIED"
	OutcomeNegotiating Outcome = "NEGOTIATING"
)

// UnmarshalJSON implements json.Unmarshaler to normalize outcome to uppercase.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Outcome(strings.ToUpper(s))
	switch normalized {
	case OutcomeApproved, OutcomeDenied, OutcomeNegotiating:
		*o = normalized
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s (must be APPROVED, DENIED, or NEGOTIATING)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// Request is one user's ask for more time on one app.
type Request struct {
	UserID           string           `json:"user_id"`
	App              string           `json:"app"`
	Category         storage.Category `json:"category"`
	RequestedMinutes int              `json:"requested_minutes"`
	Reason           string           `json:"reason"`
	Date             string           `json:"date"`
	Hour             int              `json:"hour"` // hour of day, 0-23, user-local
}

// AppUsage is one app's state inside a usage snapshot.
type AppUsage struct {
	App          string           `json:"app"`
	Category     storage.Category `json:"category"`
	MinutesUsed  int              `json:"minutes_used"`
	MinutesLimit int              `json:"minutes_limit"`
	Version      int64            `json:"version"`
	LastUsed     time.Time        `json:"last_used"`
}

// Snapshot is the user's current day at evaluation time. Stale marks a
// snapshot the caller could not load; the arbiter then falls back to
// its most conservative negotiable offer, never to approval.
type Snapshot struct {
	TotalMinutesToday int        `json:"total_minutes_today"`
	DailyLimitMinutes int        `json:"daily_limit_minutes"`
	Apps              []AppUsage `json:"apps"`
	Stale             bool       `json:"stale"`
}

// Decision is the arbiter's full, auditable output. GrantedMinutes is 0
// unless the outcome grants time; Adjustments are redistribution
// proposals only, never applied without an explicit accept.
type Decision struct {
	ID               string                    `json:"id"`
	Outcome          Outcome                   `json:"outcome"`
	GrantedMinutes   int                       `json:"granted_minutes"`
	Conditions       []string                  `json:"conditions,omitempty"`
	Adjustments      []storage.LimitAdjustment `json:"adjustments,omitempty"`
	Confidence       float64                   `json:"confidence"`
	Rationale        string                    `json:"rationale"`
	Request          Request                   `json:"request"`
	Signals          classifier.Signals        `json:"signals"`
	ExpectedVersions map[string]int64          `json:"-"`
}

package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one remote classification call. Past it the
// caller gets the neutral default instead of a blocked arbiter.
const DefaultTimeout = 5 * time.Second

// HTTPClassifier calls a remote classification endpoint. Any failure
// (transport, timeout, bad status, bad payload) degrades to Neutral().
type HTTPClassifier struct {
	url      string
	client   *http.Client
	fallback func() // invoked on each degradation, for metrics
	logger   zerolog.Logger
}

// HTTPConfig configures a remote classifier.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPClassifier creates a remote classifier. onFallback may be nil.
func NewHTTPClassifier(cfg HTTPConfig, onFallback func(), logger zerolog.Logger) *HTTPClassifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if onFallback == nil {
		onFallback = func() {}
	}
	return &HTTPClassifier{
		url:      cfg.URL,
		client:   &http.Client{Timeout: timeout},
		fallback: onFallback,
		logger:   logger.With().Str("component", "classifier").Logger(),
	}
}

type classifyRequest struct {
	Reason  string  `json:"reason"`
	Context Context `json:"context"`
}

// Classify posts the justification to the remote endpoint. The returned
// error is always nil except for context cancellation; unavailability
// is not an error here.
func (c *HTTPClassifier) Classify(ctx context.Context, reason string, rctx Context) (Signals, error) {
	if err := ctx.Err(); err != nil {
		return Neutral(), err
	}

	body, err := json.Marshal(classifyRequest{Reason: reason, Context: rctx})
	if err != nil {
		return c.degrade(err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return c.degrade(err), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.degrade(err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.degrade(fmt.Errorf("unexpected status %d", resp.StatusCode)), nil
	}

	var signals Signals
	if err := json.NewDecoder(resp.Body).Decode(&signals); err != nil {
		return c.degrade(err), nil
	}
	if !validSignals(signals) {
		return c.degrade(fmt.Errorf("invalid signals in response")), nil
	}

	return signals, nil
}

func (c *HTTPClassifier) degrade(err error) Signals {
	c.logger.Warn().Err(err).Msg("Classifier unavailable, using neutral default")
	c.fallback()
	return Neutral()
}

func validSignals(s Signals) bool {
	switch s.Urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
	default:
		return false
	}
	switch s.Quality {
	case QualityPoor, QualityFair, QualityGood, QualityExcellent:
	default:
		return false
	}
	return true
}

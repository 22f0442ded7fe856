// Package verdict records the outcome of every chart check.
package verdict

import (
	"time"

	"chartlens-server-go/internal/domain/chart"
	"chartlens-server-go/internal/platform/errors"
)

// Outcome classifies how a check ended.
type Outcome string

const (
	OutcomeAccepted        Outcome = "accepted"
	OutcomeBelowThreshold  Outcome = "below_threshold"
	OutcomeDecodeFailure   Outcome = "decode_failure"
	OutcomeDegenerateInput Outcome = "degenerate_input"
)

// ErrNotFound is returned when no live verdict has the requested id.
var ErrNotFound = errors.New(errors.KindStorage, "verdict.get", "verdict not found")

// Verdict is the recorded result of validating one image. Metrics and Checks
// are nil when the image never reached the validator.
type Verdict struct {
	ID        string         `json:"id"`
	Digest    string         `json:"digest,omitempty"`
	Source    string         `json:"source,omitempty"`
	Format    string         `json:"format,omitempty"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Accepted  bool           `json:"accepted"`
	Score     int            `json:"score"`
	Reason    string         `json:"reason,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Metrics   *chart.Metrics `json:"metrics,omitempty"`
	Checks    *chart.Checks  `json:"checks,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the verdict is past its expiry at now.
func (v Verdict) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// Cacheable reports whether the verdict may be reused for identical bytes.
// Only validator outcomes are deterministic for a given digest.
func (v Verdict) Cacheable() bool {
	return v.Digest != "" && (v.Outcome == OutcomeAccepted || v.Outcome == OutcomeBelowThreshold)
}

// FromResult builds a verdict from a validator result.
func FromResult(res chart.Result) Verdict {
	outcome := OutcomeBelowThreshold
	if res.Accepted {
		outcome = OutcomeAccepted
	}
	metrics := res.Metrics
	checks := res.Checks
	return Verdict{
		Accepted: res.Accepted,
		Score:    res.Score,
		Reason:   res.Reason,
		Outcome:  outcome,
		Metrics:  &metrics,
		Checks:   &checks,
	}
}

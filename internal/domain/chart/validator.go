// Package chart decides whether a decoded bitmap looks like a screenshot of
// a candlestick trading chart. It uses color statistics only and keeps no
// state, so Validate is safe for concurrent use.
package chart

import (
	"fmt"

	"chartlens-server-go/internal/platform/errors"
)

// AcceptThreshold is the minimum score for a bitmap to be accepted.
const AcceptThreshold = 75

// RejectReason is attached to every result that scores below AcceptThreshold.
const RejectReason = "This image does not look like a valid trading chart. Please upload a screenshot of a candlestick chart."

// ErrDegenerateInput reports a bitmap with no pixels or a buffer that does not
// match its dimensions.
var ErrDegenerateInput = errors.New(errors.KindInput, "chart.validate", "degenerate bitmap")

// Check identifies one heuristic sub-check.
type Check string

const (
	CheckCandles     Check = "has_candles"
	CheckDarkTheme   Check = "has_dark_theme"
	CheckGrid        Check = "has_grid"
	CheckInterface   Check = "has_interface"
	CheckProperRatio Check = "has_proper_ratio"
)

// Weight pairs a sub-check with the points it contributes when it passes.
type Weight struct {
	Check  Check
	Points int
}

// Weights sum to 100.
var Weights = [...]Weight{
	{CheckCandles, 35},
	{CheckDarkTheme, 25},
	{CheckGrid, 20},
	{CheckInterface, 15},
	{CheckProperRatio, 5},
}

// Metrics are the derived statistics the sub-checks are evaluated against.
type Metrics struct {
	CandlePercentage    float64 `json:"candle_percentage"`
	DarkPercentage      float64 `json:"dark_percentage"`
	GridPercentage      float64 `json:"grid_percentage"`
	InterfacePercentage float64 `json:"interface_percentage"`
	AspectRatio         float64 `json:"aspect_ratio"`
}

// Checks holds the outcome of every sub-check.
type Checks struct {
	HasCandles     bool `json:"has_candles"`
	HasDarkTheme   bool `json:"has_dark_theme"`
	HasGrid        bool `json:"has_grid"`
	HasInterface   bool `json:"has_interface"`
	HasProperRatio bool `json:"has_proper_ratio"`
}

// Passed reports the outcome of a single sub-check.
func (c Checks) Passed(check Check) bool {
	switch check {
	case CheckCandles:
		return c.HasCandles
	case CheckDarkTheme:
		return c.HasDarkTheme
	case CheckGrid:
		return c.HasGrid
	case CheckInterface:
		return c.HasInterface
	case CheckProperRatio:
		return c.HasProperRatio
	}
	return false
}

// Result is the verdict for one bitmap. Reason is empty when Accepted.
type Result struct {
	Accepted bool    `json:"accepted"`
	Score    int     `json:"score"`
	Reason   string  `json:"reason,omitempty"`
	Metrics  Metrics `json:"metrics"`
	Checks   Checks  `json:"checks"`
}

// Validate scans the bitmap once and scores it.
func Validate(b Bitmap) (Result, error) {
	if b.Width <= 0 || b.Height <= 0 {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrDegenerateInput, b.Width, b.Height)
	}
	if want := b.Width * b.Height * BytesPerPixel; len(b.Pix) != want {
		return Result{}, fmt.Errorf("%w: buffer holds %d bytes, %dx%d needs %d",
			ErrDegenerateInput, len(b.Pix), b.Width, b.Height, want)
	}

	return Evaluate(Count(b.Pix), b.Width, b.Height), nil
}

// Evaluate turns class counts into a scored result. counts.Total must be
// width*height and both must be positive.
func Evaluate(counts Counts, width, height int) Result {
	total := float64(counts.Total)
	m := Metrics{
		CandlePercentage:    float64(counts.Green+counts.Red) / total * 100,
		DarkPercentage:      float64(counts.Dark) / total * 100,
		GridPercentage:      float64(counts.Grid) / total * 100,
		InterfacePercentage: float64(counts.Interface) / total * 100,
		AspectRatio:         float64(width) / float64(height),
	}

	c := Checks{
		HasCandles:     m.CandlePercentage > 0.1 && m.CandlePercentage < 20,
		HasDarkTheme:   m.DarkPercentage > 40,
		HasGrid:        m.GridPercentage > 0.05 && m.GridPercentage < 15,
		HasInterface:   m.InterfacePercentage > 0.1 && m.InterfacePercentage < 25,
		HasProperRatio: m.AspectRatio > 1.2,
	}

	score := 0
	for _, w := range Weights {
		if c.Passed(w.Check) {
			score += w.Points
		}
	}

	res := Result{
		Accepted: score >= AcceptThreshold,
		Score:    score,
		Metrics:  m,
		Checks:   c,
	}
	if !res.Accepted {
		res.Reason = RejectReason
	}
	return res
}

package pricing

import (
	"math"

	"github.com/dgnsrekt/zerogex/internal/data"
)

const (
	initialGuess  = 0.25
	minVega       = 1e-10
	intrinsicSlop = 0.99
)

// IVParams bounds the Newton-Raphson search.
type IVParams struct {
	MaxIterations int
	Tolerance     float64
	Min           float64
	Max           float64
}

// DefaultIVParams matches the production configuration defaults.
func DefaultIVParams() IVParams {
	return IVParams{MaxIterations: 100, Tolerance: 1e-5, Min: 0.01, Max: 5.0}
}

// IVResult is the outcome of a solve. Sigma is meaningful only when OK.
type IVResult struct {
	Sigma      float64
	OK         bool
	Reason     Reason
	Iterations int
}

// SolveIV finds sigma such that Price(sigma) matches target.
func SolveIV(typ data.OptionType, target, spot, strike, t, r float64, p IVParams) IVResult {
	if target <= 0 || spot <= 0 || strike <= 0 || t <= 0 {
		return IVResult{Reason: ReasonInvalidInput}
	}
	if target < Intrinsic(typ, spot, strike)*intrinsicSlop {
		return IVResult{Reason: ReasonBelowIntrinsic}
	}

	sigma := clamp(initialGuess, p.Min, p.Max)
	for i := 0; i < p.MaxIterations; i++ {
		diff := Price(typ, spot, strike, t, r, sigma) - target
		if math.Abs(diff) < p.Tolerance {
			return IVResult{Sigma: sigma, OK: true, Iterations: i + 1}
		}

		vega := Vega(spot, strike, t, r, sigma)
		if vega < minVega {
			return IVResult{Reason: ReasonVegaCollapse, Iterations: i + 1}
		}

		sigma = clamp(sigma-diff/vega, p.Min, p.Max)
	}

	return IVResult{Reason: ReasonNoConvergence, Iterations: p.MaxIterations}
}

// ObservedPrice picks the quote used for solving: the bid/ask mid when both
// sides are positive and uncrossed, otherwise last. Zero means no price.
func ObservedPrice(bid, ask, last float64) float64 {
	if bid > 0 && ask > 0 && ask >= bid {
		return (bid + ask) / 2
	}
	if last > 0 {
		return last
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

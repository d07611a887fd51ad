package pricing

import (
	"math"

	"github.com/dgnsrekt/zerogex/internal/data"
)

// Reason explains why a pricing result carries no usable value.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInvalidInput
	ReasonNoPrice
	ReasonBelowIntrinsic
	ReasonVegaCollapse
	ReasonNoConvergence
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInvalidInput:
		return "invalid_input"
	case ReasonNoPrice:
		return "no_price"
	case ReasonBelowIntrinsic:
		return "below_intrinsic"
	case ReasonVegaCollapse:
		return "vega_collapse"
	case ReasonNoConvergence:
		return "no_convergence"
	default:
		return "unknown"
	}
}

// Greeks holds first-order sensitivities. Theta is per calendar day and
// Vega is per one volatility point. When Valid is false every value is 0
// and Reason says why; a zero Greek alone does not mean "priced at zero".
type Greeks struct {
	Delta  float64
	Gamma  float64
	Theta  float64
	Vega   float64
	Valid  bool
	Reason Reason
}

// ComputeGreeks evaluates closed-form Black-Scholes Greeks.
func ComputeGreeks(typ data.OptionType, spot, strike, t, r, sigma float64) Greeks {
	if !validInputs(spot, strike, t, sigma) {
		return Greeks{Reason: ReasonInvalidInput}
	}

	d1, d2 := d1d2(spot, strike, t, r, sigma)
	sqrtT := math.Sqrt(t)
	pdf := normPDF(d1)
	disc := r * strike * math.Exp(-r*t)
	decay := -spot * pdf * sigma / (2 * sqrtT)

	var delta, theta float64
	if typ == data.Put {
		delta = normCDF(d1) - 1
		theta = (decay + disc*normCDF(-d2)) / daysPerYear
	} else {
		delta = normCDF(d1)
		theta = (decay - disc*normCDF(d2)) / daysPerYear
	}

	return Greeks{
		Delta: round(delta, 6),
		Gamma: round(pdf/(spot*sigma*sqrtT), 8),
		Theta: round(theta, 6),
		Vega:  round(spot*pdf*sqrtT/100, 6),
		Valid: true,
	}
}

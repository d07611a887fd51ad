// Package pricing implements Black-Scholes valuation, Greeks and an
// implied-volatility solver. Every function is pure; inputs that cannot be
// priced yield a result carrying a Reason instead of an error.
package pricing

import (
	"math"

	"github.com/dgnsrekt/zerogex/internal/data"
)

const daysPerYear = 365.0

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func validInputs(spot, strike, t, sigma float64) bool {
	return spot > 0 && strike > 0 && t > 0 && sigma > 0
}

func d1d2(spot, strike, t, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// Price returns the Black-Scholes value of a European option, or 0 for
// unpriceable inputs.
func Price(typ data.OptionType, spot, strike, t, r, sigma float64) float64 {
	if !validInputs(spot, strike, t, sigma) {
		return 0
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	disc := strike * math.Exp(-r*t)
	if typ == data.Put {
		return disc*normCDF(-d2) - spot*normCDF(-d1)
	}
	return spot*normCDF(d1) - disc*normCDF(d2)
}

// Vega is dPrice/dSigma per unit of volatility (not per point).
func Vega(spot, strike, t, r, sigma float64) float64 {
	if !validInputs(spot, strike, t, sigma) {
		return 0
	}
	d1, _ := d1d2(spot, strike, t, r, sigma)
	return spot * normPDF(d1) * math.Sqrt(t)
}

// Vanna is d(delta)/d(sigma) = -phi(d1) * d2 / sigma.
func Vanna(spot, strike, t, r, sigma float64) float64 {
	if !validInputs(spot, strike, t, sigma) {
		return 0
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	return -normPDF(d1) * d2 / sigma
}

// Charm is d(delta)/d(time), per calendar day. Without dividends the call
// and put values coincide.
func Charm(spot, strike, t, r, sigma float64) float64 {
	if !validInputs(spot, strike, t, sigma) {
		return 0
	}
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	sqrtT := math.Sqrt(t)
	charm := -normPDF(d1) * (2*r*t - d2*sigma*sqrtT) / (2 * t * sigma * sqrtT)
	return charm / daysPerYear
}

// Intrinsic is the immediate exercise value.
func Intrinsic(typ data.OptionType, spot, strike float64) float64 {
	if typ == data.Put {
		return math.Max(0, strike-spot)
	}
	return math.Max(0, spot-strike)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package pricing

import (
	"time"

	"github.com/dgnsrekt/zerogex/internal/data"
)

// Config holds the market assumptions the engine prices with.
type Config struct {
	RiskFreeRate      float64
	DefaultVolatility float64
	IV                IVParams
}

// Engine enriches option records with implied volatility and Greeks.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// RiskFreeRate returns the configured rate.
func (e *Engine) RiskFreeRate() float64 {
	return e.cfg.RiskFreeRate
}

// Greeks prices one contract with the engine's rate.
func (e *Engine) Greeks(typ data.OptionType, spot, strike, t, sigma float64) Greeks {
	return ComputeGreeks(typ, spot, strike, t, e.cfg.RiskFreeRate, sigma)
}

// ImpliedVolatility solves IV from the record's quote.
func (e *Engine) ImpliedVolatility(rec data.OptionRecord, spot, t float64) IVResult {
	price := ObservedPrice(rec.Bid, rec.Ask, rec.Last)
	if price <= 0 {
		return IVResult{Reason: ReasonNoPrice}
	}
	return SolveIV(rec.OptionType, price, spot, rec.Strike, t, e.cfg.RiskFreeRate, e.cfg.IV)
}

// Enrichment reports what Enrich did to a record.
type Enrichment struct {
	IV     IVResult
	Greeks Greeks
}

// Enrich attaches IV and Greeks to rec in place, using rec.UnderlyingPrice
// as spot. An upstream IV is kept as is. When no IV is available the default
// volatility prices the Greeks and the record's IV stays nil. Greeks that
// cannot be computed stay nil.
func (e *Engine) Enrich(rec *data.OptionRecord, asOf time.Time) Enrichment {
	spot := rec.UnderlyingPrice
	t := TimeToExpiry(asOf, rec.Expiration)

	var out Enrichment
	var sigma float64

	switch {
	case rec.ImpliedVolatility != nil && *rec.ImpliedVolatility > 0:
		sigma = *rec.ImpliedVolatility
		rec.IVSource = data.IVSourceAPI
		out.IV = IVResult{Sigma: sigma, OK: true}
	default:
		out.IV = e.ImpliedVolatility(*rec, spot, t)
		if out.IV.OK {
			sigma = out.IV.Sigma
			rec.ImpliedVolatility = data.Float(sigma)
			rec.IVSource = data.IVSourceSolved
		} else {
			sigma = e.cfg.DefaultVolatility
			rec.IVSource = data.IVSourceDefault
		}
	}

	out.Greeks = e.Greeks(rec.OptionType, spot, rec.Strike, t, sigma)
	if out.Greeks.Valid {
		rec.Delta = data.Float(out.Greeks.Delta)
		rec.Gamma = data.Float(out.Greeks.Gamma)
		rec.Theta = data.Float(out.Greeks.Theta)
		rec.Vega = data.Float(out.Greeks.Vega)
	}
	return out
}

// Package analytics computes dealer gamma exposure, the gamma flip level
// and max pain from persisted, Greeks-enriched option snapshots.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/pricing"
)

// ContractMultiplier is the share count per equity option contract.
const ContractMultiplier = 100

// DefaultVolatility prices vanna and charm for records without an IV when
// no volatility is configured.
const DefaultVolatility = 0.2

type groupKey struct {
	strike     float64
	expiration time.Time
}

type group struct {
	calls []data.OptionRecord
	puts  []data.OptionRecord
}

// ComputeGexByStrike groups records by (strike, expiration) and computes
// per-group exposure. Dealers are modeled short calls and long puts, so
// call exposure is positive and put exposure negative. Vanna and charm use
// each record's own IV and time to expiry at asOf, or defaultVol when the
// record has none. Records without gamma are skipped. Rows are ordered by strike, then expiration.
func ComputeGexByStrike(records []data.OptionRecord, spot float64, asOf time.Time, rate, defaultVol float64) []data.GexByStrike {
	if defaultVol <= 0 {
		defaultVol = DefaultVolatility
	}
	groups := make(map[groupKey]*group)
	var keys []groupKey
	var underlying string

	for _, rec := range records {
		if rec.Gamma == nil {
			continue
		}
		underlying = rec.Underlying
		k := groupKey{strike: rec.Strike, expiration: rec.Expiration}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			keys = append(keys, k)
		}
		if rec.OptionType == data.Call {
			g.calls = append(g.calls, rec)
		} else {
			g.puts = append(g.puts, rec)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].strike != keys[j].strike {
			return keys[i].strike < keys[j].strike
		}
		return keys[i].expiration.Before(keys[j].expiration)
	})

	rows := make([]data.GexByStrike, 0, len(keys))
	for _, k := range keys {
		g := groups[k]

		callGamma, callOI, callVol := sums(g.calls)
		putGamma, putOI, putVol := sums(g.puts)

		callGex := callGamma * float64(callOI) * ContractMultiplier
		putGex := -putGamma * float64(putOI) * ContractMultiplier

		row := data.GexByStrike{
			Underlying: underlying,
			Timestamp:  asOf,
			Strike:     k.strike,
			Expiration: k.expiration,
			TotalGamma: callGamma + putGamma,
			CallGamma:  callGamma,
			PutGamma:   putGamma,
			NetGex:     callGex + putGex,
			CallVolume: callVol,
			PutVolume:  putVol,
			CallOI:     callOI,
			PutOI:      putOI,
		}

		for _, rec := range append(append([]data.OptionRecord(nil), g.calls...), g.puts...) {
			sigma := defaultVol
			if rec.ImpliedVolatility != nil && *rec.ImpliedVolatility > 0 {
				sigma = *rec.ImpliedVolatility
			}
			tte := pricing.TimeToExpiry(asOf, rec.Expiration)
			weight := float64(rec.OpenInterest) * ContractMultiplier
			row.VannaExposure += pricing.Vanna(spot, k.strike, tte, rate, sigma) * weight
			row.CharmExposure += pricing.Charm(spot, k.strike, tte, rate, sigma) * weight
		}

		rows = append(rows, row)
	}
	return rows
}

func sums(recs []data.OptionRecord) (gamma float64, oi, volume int64) {
	for _, r := range recs {
		if r.Gamma != nil {
			gamma += *r.Gamma
		}
		oi += r.OpenInterest
		volume += r.Volume
	}
	return gamma, oi, volume
}

// GammaFlipPoint nets exposure per strike across expirations, scans
// adjacent strikes in ascending order and interpolates the first zero
// crossing. It returns false when net exposure never changes sign.
func GammaFlipPoint(rows []data.GexByStrike) (float64, bool) {
	byStrike := make(map[float64]float64)
	var strikes []float64
	for _, r := range rows {
		if _, ok := byStrike[r.Strike]; !ok {
			strikes = append(strikes, r.Strike)
		}
		byStrike[r.Strike] += r.NetGex
	}
	sort.Float64s(strikes)

	for i := 0; i+1 < len(strikes); i++ {
		s1, s2 := strikes[i], strikes[i+1]
		g1, g2 := byStrike[s1], byStrike[s2]
		if g1*g2 < 0 {
			return s1 + (s2-s1)*(-g1)/(g2-g1), true
		}
	}
	return 0, false
}

// MaxPain returns the observed strike at which the total intrinsic payout
// owed to option holders is smallest. Records with zero open interest do
// not contribute payout but their strikes are still candidates. Ties go to
// the lower strike.
func MaxPain(records []data.OptionRecord) (float64, bool) {
	seen := make(map[float64]struct{})
	var candidates []float64
	for _, r := range records {
		if _, ok := seen[r.Strike]; !ok {
			seen[r.Strike] = struct{}{}
			candidates = append(candidates, r.Strike)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Float64s(candidates)

	best, bestPayout := candidates[0], math.Inf(1)
	for _, settle := range candidates {
		payout := 0.0
		for _, r := range records {
			if r.OpenInterest == 0 {
				continue
			}
			payout += pricing.Intrinsic(r.OptionType, settle, r.Strike) * float64(r.OpenInterest) * ContractMultiplier
		}
		if payout < bestPayout {
			best, bestPayout = settle, payout
		}
	}
	return best, true
}

// Summarize rolls one cycle's rows and records into a GexSummary. It
// returns false when there are no rows.
func Summarize(underlying string, ts time.Time, spot float64, rows []data.GexByStrike, records []data.OptionRecord) (data.GexSummary, bool) {
	if len(rows) == 0 {
		return data.GexSummary{}, false
	}

	s := data.GexSummary{
		Underlying:      underlying,
		Timestamp:       ts,
		UnderlyingPrice: spot,
	}

	maxRow := rows[0]
	for _, r := range rows {
		if math.Abs(r.NetGex) > math.Abs(maxRow.NetGex) {
			maxRow = r
		}
		s.TotalNetGex += r.NetGex
	}
	s.MaxGammaStrike = maxRow.Strike
	s.MaxGammaValue = maxRow.NetGex

	if flip, ok := GammaFlipPoint(rows); ok {
		s.GammaFlipPoint = &flip
	}
	s.MaxPain, _ = MaxPain(records)

	for _, r := range records {
		switch r.OptionType {
		case data.Call:
			s.TotalCallVolume += r.Volume
			s.TotalCallOI += r.OpenInterest
		case data.Put:
			s.TotalPutVolume += r.Volume
			s.TotalPutOI += r.OpenInterest
		}
	}
	if s.TotalCallVolume > 0 {
		s.PutCallRatio = float64(s.TotalPutVolume) / float64(s.TotalCallVolume)
	}
	return s, true
}

package ingest

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/zerogex/internal/api"
	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
)

// barFromAPI converts an upstream bar. A missing timestamp falls back to
// fallback; the result is expressed in exchange time.
func barFromAPI(symbol string, b api.Bar, fallback time.Time) (data.UnderlyingBar, error) {
	ts := b.TimeStamp
	if ts.IsZero() {
		ts = fallback
	}
	bar := data.UnderlyingBar{
		Symbol:     symbol,
		Timestamp:  ts.In(market.Location()),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		UpVolume:   b.UpVolume,
		DownVolume: b.DownVolume,
	}
	if err := data.ValidateBar(bar); err != nil {
		return data.UnderlyingBar{}, err
	}
	return bar, nil
}

// recordFromQuote recovers contract terms from the quote's symbol and
// builds a raw option record. Quotes for another underlying are rejected.
func recordFromQuote(underlying string, q api.Quote, spot float64, fallback time.Time) (*data.OptionRecord, error) {
	sym, err := data.ParseOptionSymbol(q.Symbol)
	if err != nil {
		return nil, err
	}
	if sym.Underlying != underlying {
		return nil, fmt.Errorf("%w: %q is not a %s contract", data.ErrInvalidSymbol, q.Symbol, underlying)
	}

	ts := q.TimeStamp
	if ts.IsZero() {
		ts = fallback
	}
	rec := &data.OptionRecord{
		OptionSymbol:      q.Symbol,
		Underlying:        underlying,
		Timestamp:         ts.In(market.Location()),
		Strike:            sym.Strike,
		Expiration:        sym.Expiration,
		OptionType:        sym.Type,
		Last:              q.Last,
		Bid:               q.Bid,
		Ask:               q.Ask,
		Volume:            q.Volume,
		OpenInterest:      q.OpenInterest,
		ImpliedVolatility: q.ImpliedVolatility,
		UnderlyingPrice:   spot,
	}
	if err := data.ValidateOptionRecord(*rec); err != nil {
		return nil, err
	}
	return rec, nil
}

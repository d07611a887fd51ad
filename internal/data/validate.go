package data

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBar   = errors.New("invalid bar")
	ErrInvalidQuote = errors.New("invalid option quote")
)

// ValidateBar checks OHLC sanity: a positive close and low <= open, close <= high.
func ValidateBar(b UnderlyingBar) error {
	if b.Close <= 0 {
		return fmt.Errorf("%w: non-positive close %.4f", ErrInvalidBar, b.Close)
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidBar)
	}
	if b.Low > b.High {
		return fmt.Errorf("%w: low %.4f above high %.4f", ErrInvalidBar, b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("%w: open %.4f outside [%.4f, %.4f]", ErrInvalidBar, b.Open, b.Low, b.High)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("%w: close %.4f outside [%.4f, %.4f]", ErrInvalidBar, b.Close, b.Low, b.High)
	}
	return nil
}

// ValidateOptionRecord checks the identity fields and quote sides.
func ValidateOptionRecord(r OptionRecord) error {
	if r.OptionSymbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidQuote)
	}
	if r.Strike <= 0 {
		return fmt.Errorf("%w: non-positive strike", ErrInvalidQuote)
	}
	if !r.OptionType.Valid() {
		return fmt.Errorf("%w: option type %q", ErrInvalidQuote, r.OptionType)
	}
	if r.Bid > 0 && r.Ask > 0 && r.Bid > r.Ask {
		return fmt.Errorf("%w: bid %.4f above ask %.4f", ErrInvalidQuote, r.Bid, r.Ask)
	}
	if r.ImpliedVolatility != nil && (*r.ImpliedVolatility <= 0 || *r.ImpliedVolatility > 5) {
		return fmt.Errorf("%w: implied volatility %.4f out of range", ErrInvalidQuote, *r.ImpliedVolatility)
	}
	return nil
}

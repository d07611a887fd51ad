package data

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/zerogex/internal/market"
)

var ErrInvalidSymbol = errors.New("invalid option symbol")

const symbolDateLayout = "060102"

// OptionSymbol is the parsed form of "{UNDERLYING} {YYMMDD}{C|P}{STRIKE}".
type OptionSymbol struct {
	Underlying string
	Expiration time.Time
	Type       OptionType
	Strike     float64
}

// String renders the symbol in upstream format.
func (s OptionSymbol) String() string {
	return BuildOptionSymbol(s.Underlying, s.Expiration, s.Type, s.Strike)
}

// BuildOptionSymbol renders e.g. "SPY 260221C450" or "SPY 260221P450.50".
// Whole strikes print without decimals, others with exactly two.
func BuildOptionSymbol(underlying string, expiration time.Time, t OptionType, strike float64) string {
	return fmt.Sprintf("%s %s%s%s",
		strings.ToUpper(underlying),
		expiration.Format(symbolDateLayout),
		t,
		FormatStrike(strike),
	)
}

// FormatStrike renders a strike the way option symbols carry it.
func FormatStrike(strike float64) string {
	d := decimal.NewFromFloat(strike).Round(2)
	if d.IsInteger() {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}

// ParseOptionSymbol recovers underlying, expiration, type and strike.
// The expiration is midnight exchange time.
func ParseOptionSymbol(symbol string) (OptionSymbol, error) {
	parts := strings.Fields(symbol)
	if len(parts) != 2 {
		return OptionSymbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	root, body := parts[0], parts[1]
	if len(body) < 8 {
		return OptionSymbol{}, fmt.Errorf("%w: %q too short", ErrInvalidSymbol, symbol)
	}

	exp, err := time.ParseInLocation(symbolDateLayout, body[:6], market.Location())
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("%w: bad expiration in %q", ErrInvalidSymbol, symbol)
	}

	t := OptionType(strings.ToUpper(body[6:7]))
	if !t.Valid() {
		return OptionSymbol{}, fmt.Errorf("%w: bad type in %q", ErrInvalidSymbol, symbol)
	}

	strike, err := decimal.NewFromString(body[7:])
	if err != nil || !strike.IsPositive() {
		return OptionSymbol{}, fmt.Errorf("%w: bad strike in %q", ErrInvalidSymbol, symbol)
	}

	return OptionSymbol{
		Underlying: strings.ToUpper(root),
		Expiration: exp,
		Type:       t,
		Strike:     strike.InexactFloat64(),
	}, nil
}

package pricing

import (
	"time"

	"github.com/dgnsrekt/zerogex/internal/market"
)

// MinTimeToExpiry is one minute expressed in years.
const MinTimeToExpiry = 1.0 / 525600.0

const closeHour = 16

// TimeToExpiry returns years from now until the 16:00 exchange-time close
// on the expiration date, floored at one minute.
func TimeToExpiry(now, expiration time.Time) float64 {
	loc := market.Location()
	exp := expiration.In(loc)
	closeAt := time.Date(exp.Year(), exp.Month(), exp.Day(), closeHour, 0, 0, 0, loc)

	years := closeAt.Sub(now).Hours() / 24 / daysPerYear
	if years < MinTimeToExpiry {
		return MinTimeToExpiry
	}
	return years
}

// Package universe selects the option contracts to track around a
// reference price.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
)

var ErrEmptyUniverse = errors.New("no option contracts in range")

// ChainSource lists expirations and strikes for an underlying.
type ChainSource interface {
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionStrikes(ctx context.Context, underlying string, expiration time.Time) ([]float64, error)
}

// Params controls universe selection.
type Params struct {
	Underlying         string
	Expirations        int
	StrikeDistance     float64
	PriceMoveThreshold float64
}

// Universe is one resolved contract set.
type Universe struct {
	ReferencePrice float64
	Expirations    []time.Time
	Strikes        map[string][]float64 // by expiration date, YYYY-MM-DD
	Symbols        []string
}

// Build resolves the N nearest expirations on or after asOf's date and, for
// each, the strikes within [price-D, price+D]. Symbols are ordered by
// expiration, strike, then call before put.
func Build(ctx context.Context, src ChainSource, p Params, price float64, asOf time.Time) (Universe, error) {
	all, err := src.GetOptionExpirations(ctx, p.Underlying)
	if err != nil {
		return Universe{}, fmt.Errorf("fetching expirations: %w", err)
	}

	today := market.DateOf(asOf)
	var future []time.Time
	for _, exp := range all {
		if !market.DateOf(exp).Before(today) {
			future = append(future, market.DateOf(exp))
		}
	}
	sort.Slice(future, func(i, j int) bool { return future[i].Before(future[j]) })
	if len(future) > p.Expirations {
		future = future[:p.Expirations]
	}

	u := Universe{
		ReferencePrice: price,
		Strikes:        make(map[string][]float64, len(future)),
	}
	lo, hi := price-p.StrikeDistance, price+p.StrikeDistance

	for _, exp := range future {
		strikes, err := src.GetOptionStrikes(ctx, p.Underlying, exp)
		if err != nil {
			return Universe{}, fmt.Errorf("fetching strikes for %s: %w", market.FormatDate(exp), err)
		}

		var inBand []float64
		for _, k := range strikes {
			if k >= lo && k <= hi {
				inBand = append(inBand, k)
			}
		}
		if len(inBand) == 0 {
			continue
		}
		sort.Float64s(inBand)

		u.Expirations = append(u.Expirations, exp)
		u.Strikes[market.FormatDate(exp)] = inBand
	}

	u.Symbols = u.symbolsFor(p.Underlying)
	if len(u.Symbols) == 0 {
		return Universe{}, ErrEmptyUniverse
	}
	return u, nil
}

func (u Universe) symbolsFor(underlying string) []string {
	var symbols []string
	for _, exp := range u.Expirations {
		for _, k := range u.Strikes[market.FormatDate(exp)] {
			symbols = append(symbols,
				data.BuildOptionSymbol(underlying, exp, data.Call, k),
				data.BuildOptionSymbol(underlying, exp, data.Put, k),
			)
		}
	}
	return symbols
}

// CachedChain memoizes a ChainSource for the lifetime of one run. Backfill
// uses it so every replayed bar does not refetch the chain.
type CachedChain struct {
	src         ChainSource
	mu          sync.Mutex
	expirations map[string][]time.Time
	strikes     map[string][]float64
}

func NewCachedChain(src ChainSource) *CachedChain {
	return &CachedChain{
		src:         src,
		expirations: make(map[string][]time.Time),
		strikes:     make(map[string][]float64),
	}
}

func (c *CachedChain) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exps, ok := c.expirations[underlying]; ok {
		return exps, nil
	}
	exps, err := c.src.GetOptionExpirations(ctx, underlying)
	if err != nil {
		return nil, err
	}
	c.expirations[underlying] = exps
	return exps, nil
}

func (c *CachedChain) GetOptionStrikes(ctx context.Context, underlying string, expiration time.Time) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := underlying + "|" + market.FormatDate(expiration)
	if strikes, ok := c.strikes[key]; ok {
		return strikes, nil
	}
	strikes, err := c.src.GetOptionStrikes(ctx, underlying, expiration)
	if err != nil {
		return nil, err
	}
	c.strikes[key] = strikes
	return strikes, nil
}

package api

import "time"

// Bar is one upstream bar. Unparsable numerics are 0 and an unparsable
// timestamp is the zero time; validation happens at ingress.
type Bar struct {
	TimeStamp   time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	UpVolume    int64
	DownVolume  int64
	TotalVolume int64
}

// Quote is one upstream quote for an equity or option symbol.
type Quote struct {
	Symbol            string
	TimeStamp         time.Time
	TradeTime         time.Time // last trade, not the observation time
	Last              float64
	Bid               float64
	Ask               float64
	Volume            int64
	OpenInterest      int64
	ImpliedVolatility *float64
}

// BarsRequest selects a bar series. Either BarsBack or a date range is set.
type BarsRequest struct {
	Symbol          string
	Interval        int
	Unit            string
	BarsBack        int
	FirstDate       time.Time
	LastDate        time.Time
	SessionTemplate string
}

// Session templates understood by the bar endpoint.
const (
	SessionTemplateDefault = "Default"
	SessionTemplatePre     = "USEQPre"
	SessionTemplate24Hour  = "USEQ24Hour"
)

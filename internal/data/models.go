package data

import "time"

// OptionType is the contract right.
type OptionType string

const (
	Call OptionType = "C"
	Put  OptionType = "P"
)

// Valid reports whether t is C or P.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// IVSource records where a record's implied volatility came from.
type IVSource string

const (
	IVSourceNone    IVSource = ""
	IVSourceAPI     IVSource = "api"
	IVSourceSolved  IVSource = "solved"
	IVSourceDefault IVSource = "default"
)

// UnderlyingBar is one OHLC bar of the tracked underlying.
type UnderlyingBar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	UpVolume   int64     `json:"up_volume"`
	DownVolume int64     `json:"down_volume"`
}

// OptionRecord is a single option quote, enriched with IV and Greeks
// before it is buffered. Nil pointers are unpriced values.
type OptionRecord struct {
	OptionSymbol      string     `json:"option_symbol"`
	Underlying        string     `json:"underlying"`
	Timestamp         time.Time  `json:"timestamp"`
	Strike            float64    `json:"strike"`
	Expiration        time.Time  `json:"expiration"`
	OptionType        OptionType `json:"option_type"`
	Last              float64    `json:"last"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	Volume            int64      `json:"volume"`
	OpenInterest      int64      `json:"open_interest"`
	ImpliedVolatility *float64   `json:"implied_volatility,omitempty"`
	Delta             *float64   `json:"delta,omitempty"`
	Gamma             *float64   `json:"gamma,omitempty"`
	Theta             *float64   `json:"theta,omitempty"`
	Vega              *float64   `json:"vega,omitempty"`

	// Transient enrichment inputs, not persisted.
	UnderlyingPrice float64  `json:"-"`
	IVSource        IVSource `json:"-"`
}

// GexByStrike is dealer exposure for one (strike, expiration) group.
type GexByStrike struct {
	Underlying    string    `json:"underlying"`
	Timestamp     time.Time `json:"timestamp"`
	Strike        float64   `json:"strike"`
	Expiration    time.Time `json:"expiration"`
	TotalGamma    float64   `json:"total_gamma"`
	CallGamma     float64   `json:"call_gamma"`
	PutGamma      float64   `json:"put_gamma"`
	NetGex        float64   `json:"net_gex"`
	CallVolume    int64     `json:"call_volume"`
	PutVolume     int64     `json:"put_volume"`
	CallOI        int64     `json:"call_oi"`
	PutOI         int64     `json:"put_oi"`
	VannaExposure float64   `json:"vanna_exposure"`
	CharmExposure float64   `json:"charm_exposure"`
}

// GexSummary is the per-cycle rollup for one underlying.
type GexSummary struct {
	Underlying      string    `json:"underlying"`
	Timestamp       time.Time `json:"timestamp"`
	UnderlyingPrice float64   `json:"underlying_price"`
	MaxGammaStrike  float64   `json:"max_gamma_strike"`
	MaxGammaValue   float64   `json:"max_gamma_value"`
	GammaFlipPoint  *float64  `json:"gamma_flip_point"`
	MaxPain         float64   `json:"max_pain"`
	TotalCallVolume int64     `json:"total_call_volume"`
	TotalPutVolume  int64     `json:"total_put_volume"`
	TotalCallOI     int64     `json:"total_call_oi"`
	TotalPutOI      int64     `json:"total_put_oi"`
	PutCallRatio    float64   `json:"put_call_ratio"`
	TotalNetGex     float64   `json:"total_net_gex"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

const upstreamTimeLayout = "2006-01-02T15:04:05Z"

// Fields that may carry implied volatility, in priority order.
var ivFields = []string{"ImpliedVolatility", "IV", "Volatility", "IVol"}

var parserPool fastjson.ParserPool

// numberField reads key as a number. Values may arrive as JSON numbers or
// numeric strings.
func numberField(v *fastjson.Value, key string) (float64, bool) {
	f := v.Get(key)
	if f == nil {
		return 0, false
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		x, err := f.Float64()
		return x, err == nil
	case fastjson.TypeString:
		s := strings.TrimSpace(string(f.GetStringBytes()))
		if s == "" || s == "N/A" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		return x, err == nil
	default:
		return 0, false
	}
}

// safeFloat maps missing, unparsable, negative and non-finite values to 0.
func safeFloat(v *fastjson.Value, key string) float64 {
	x, ok := numberField(v, key)
	if !ok || x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func safeInt(v *fastjson.Value, key string) int64 {
	return int64(safeFloat(v, key))
}

func timeField(v *fastjson.Value, key string) time.Time {
	s := string(v.GetStringBytes(key))
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(upstreamTimeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

func decodeBars(body []byte) ([]Bar, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decoding bars: %w", err)
	}

	items := root.GetArray("Bars")
	bars := make([]Bar, 0, len(items))
	for _, item := range items {
		bars = append(bars, Bar{
			TimeStamp:   timeField(item, "TimeStamp"),
			Open:        safeFloat(item, "Open"),
			High:        safeFloat(item, "High"),
			Low:         safeFloat(item, "Low"),
			Close:       safeFloat(item, "Close"),
			UpVolume:    safeInt(item, "UpVolume"),
			DownVolume:  safeInt(item, "DownVolume"),
			TotalVolume: safeInt(item, "TotalVolume"),
		})
	}
	return bars, nil
}

func decodeQuotes(body []byte) ([]Quote, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decoding quotes: %w", err)
	}

	items := root.GetArray("Quotes")
	quotes := make([]Quote, 0, len(items))
	for _, item := range items {
		q := Quote{
			Symbol:       string(item.GetStringBytes("Symbol")),
			TimeStamp:    timeField(item, "TimeStamp"),
			TradeTime:    timeField(item, "TradeTime"),
			Last:         safeFloat(item, "Last"),
			Bid:          safeFloat(item, "Bid"),
			Ask:          safeFloat(item, "Ask"),
			Volume:       safeInt(item, "Volume"),
			OpenInterest: safeInt(item, "OpenInterest"),
		}
		if q.OpenInterest == 0 {
			q.OpenInterest = safeInt(item, "DailyOpenInterest")
		}
		for _, key := range ivFields {
			if iv := safeFloat(item, key); iv > 0 && iv <= 5 {
				q.ImpliedVolatility = &iv
				break
			}
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func decodeExpirations(body []byte) ([]time.Time, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decoding expirations: %w", err)
	}

	var out []time.Time
	for _, item := range root.GetArray("Expirations") {
		t := timeField(item, "Date")
		if t.IsZero() {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeStrikes(body []byte) ([]float64, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decoding strikes: %w", err)
	}

	var out []float64
	for _, row := range root.GetArray("Strikes") {
		cells := row.GetArray()
		if len(cells) == 0 {
			continue
		}
		var raw string
		switch cells[0].Type() {
		case fastjson.TypeString:
			raw = string(cells[0].GetStringBytes())
		case fastjson.TypeNumber:
			raw = cells[0].String()
		default:
			continue
		}
		k, err := strconv.ParseFloat(raw, 64)
		if err != nil || k <= 0 {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

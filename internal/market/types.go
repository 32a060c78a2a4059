// Package market retrieves time-series price data from the external provider
// and serves it through a time-bounded, single-flight cache.
package market

import "time"

// Interval is the candle granularity of a price series.
type Interval string

const (
	IntervalDaily  Interval = "daily"
	IntervalHourly Interval = "hourly"
)

// ParseInterval validates a user-supplied interval string.
func ParseInterval(s string) (Interval, bool) {
	switch Interval(s) {
	case IntervalDaily, IntervalHourly:
		return Interval(s), true
	case "":
		return IntervalDaily, true
	default:
		return "", false
	}
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is an immutable cached price series for one (asset, interval, range)
// key. Once stored it is never mutated; refreshes replace it wholesale.
type Series struct {
	AssetID  int
	Symbol   string
	Interval Interval
	Days     int
	Candles  []Candle

	FetchedAt time.Time
	// Degraded marks a series served from the stale-grace window after a
	// provider failure, so the caller can be told the data may be old.
	Degraded bool
}

// TrendingEntry is one asset of the provider's trending list, carrying the
// figures the heatmap needs.
type TrendingEntry struct {
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Price           float64 `json:"price"`
	PriceChange24h  float64 `json:"price_change"`
	VolumeChange24h float64 `json:"vol_change"`
}

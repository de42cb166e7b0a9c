// Package chart serves multi-granularity historical candle series through a
// tiered TTL cache, including the incremental merge path that extends a
// cached intraday series with freshly fetched tail candles.
package chart

import (
	"fmt"
	"time"
)

// Granularity is the chart resolution.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityDay    Granularity = "day"
	GranularityMonth  Granularity = "month"
	GranularityYear   Granularity = "year"
)

// Per-granularity cache TTLs. The intraday series has no TTL: it is
// continuously extended in place instead of expiring.
const (
	ttlDay   = time.Hour
	ttlMonth = 24 * time.Hour
	ttlYear  = 7 * 24 * time.Hour
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityDay, GranularityMonth, GranularityYear:
		return true
	}
	return false
}

// TTL returns the cache lifetime for series of this granularity. Zero means
// no expiry.
func (g Granularity) TTL() time.Duration {
	switch g {
	case GranularityDay:
		return ttlDay
	case GranularityMonth:
		return ttlMonth
	case GranularityYear:
		return ttlYear
	default:
		return 0
	}
}

// Candle is one normalized OHLCV bar. Time is empty for non-intraday bars.
// All numeric fields are non-negative after normalization; malformed source
// values become 0 rather than failing the series.
type Candle struct {
	Date   string `json:"date"`
	Time   string `json:"time,omitempty"`
	Open   int64  `json:"open"`
	High   int64  `json:"high"`
	Low    int64  `json:"low"`
	Close  int64  `json:"close"`
	Volume int64  `json:"volume"`
}

// Series is an ordered candle sequence for one instrument. Candles ascend by
// time. An empty Candles slice is a valid result, distinguishable from "not
// cached" by the store's found flag.
type Series struct {
	Code        string      `json:"code"`
	Granularity Granularity `json:"granularity"`
	Range       int         `json:"range"`
	Candles     []Candle    `json:"candles"`
	LastUpdated time.Time   `json:"last_updated"`
}

// CacheKey builds the store key for one (instrument, granularity, range).
func CacheKey(code string, g Granularity, rng int) string {
	return fmt.Sprintf("chart:%s:%s:%d", code, g, rng)
}

// emptySeries is the permissive-read fallback: a valid empty result tagged
// with the requested parameters.
func emptySeries(code string, g Granularity, rng int) *Series {
	return &Series{Code: code, Granularity: g, Range: rng, Candles: []Candle{}}
}

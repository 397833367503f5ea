package market

import (
	"context"
	"time"
)

// Interval names a candle duration understood by historical providers.
type Interval string

const (
	IntervalOneMinute  Interval = "ONE_MINUTE"
	IntervalFiveMinute Interval = "FIVE_MINUTE"
	IntervalOneDay     Interval = "ONE_DAY"
)

// Duration returns the wall-clock length of the interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalOneMinute:
		return time.Minute
	case IntervalFiveMinute:
		return 5 * time.Minute
	case IntervalOneDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Query selects a closed historical range for one instrument.
type Query struct {
	Exchange      string // e.g. "NSE"
	InstrumentKey string // exchange token
	Interval      Interval
	From          time.Time
	To            time.Time
}

// Candle is one historical OHLCV row.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Provider serves historical candles. Implementations return candles ordered
// oldest first and an empty slice when the range has no data.
type Provider interface {
	Candles(ctx context.Context, q Query) ([]Candle, error)
}

// IntervalFor maps a bar duration to the matching interval, falling back to
// FIVE_MINUTE for durations providers do not serve.
func IntervalFor(d time.Duration) Interval {
	switch d {
	case time.Minute:
		return IntervalOneMinute
	case 24 * time.Hour:
		return IntervalOneDay
	default:
		return IntervalFiveMinute
	}
}

package candle

import (
	"context"
	"time"
)

// DefaultBucket is the bar duration used across the scanner.
const DefaultBucket = 5 * time.Minute

// Bar is an OHLCV summary of the ticks seen for one instrument in one bucket.
type Bar struct {
	InstrumentKey string    `json:"instrument_key"`
	BucketStart   time.Time `json:"bucket_start"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
}

func newBar(key string, start time.Time, price, volume float64) *Bar {
	return &Bar{
		InstrumentKey: key,
		BucketStart:   start,
		Open:          price,
		High:          price,
		Low:           price,
		Close:         price,
		Volume:        volume,
	}
}

func (b *Bar) apply(price, volume float64) {
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.Volume += volume
}

// BarSink persists closed bars in batches.
type BarSink interface {
	InsertBars(ctx context.Context, bars []Bar) error
}

// Floor returns ts floored to a multiple of bucket counted from local
// midnight in ts's location. Seconds and sub-second parts of the result are
// zero for minute-aligned buckets.
func Floor(ts time.Time, bucket time.Duration) time.Time {
	if bucket <= 0 {
		return ts
	}
	y, m, d := ts.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
	offset := ts.Sub(midnight)
	return midnight.Add(offset - offset%bucket)
}

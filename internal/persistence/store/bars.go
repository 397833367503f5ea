package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"fno-scanner/pkg/candle"
	"fno-scanner/pkg/market"
)

// InsertBars upserts closed bars in one transaction. A bar rewritten for the
// same bucket replaces the earlier row.
func (s *Store) InsertBars(ctx context.Context, bars []candle.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	const stmt = `
INSERT INTO bars (instrument_key, bucket_start, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (instrument_key, bucket_start) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume`
	return s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, b := range bars {
			if _, err := session.ExecCtx(ctx, stmt,
				b.InstrumentKey, b.BucketStart, b.Open, b.High, b.Low, b.Close, b.Volume,
			); err != nil {
				return fmt.Errorf("store: insert bar key=%s start=%s: %w", b.InstrumentKey, b.BucketStart, err)
			}
		}
		return nil
	})
}

type barRow struct {
	BucketStart time.Time `db:"bucket_start"`
	Open        float64   `db:"open"`
	High        float64   `db:"high"`
	Low         float64   `db:"low"`
	Close       float64   `db:"close"`
	Volume      float64   `db:"volume"`
}

// RecentBars returns the latest limit bars of symbol on exchange, oldest
// first.
func (s *Store) RecentBars(ctx context.Context, symbol, exchange string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	const query = `
SELECT bucket_start, open, high, low, close, volume FROM (
    SELECT b.bucket_start, b.open, b.high, b.low, b.close, b.volume
    FROM bars b
    JOIN instruments i ON i.token = b.instrument_key
    WHERE i.symbol = $1 AND i.exchange = $2
    ORDER BY b.bucket_start DESC
    LIMIT $3
) recent
ORDER BY bucket_start ASC`
	var rows []barRow
	if err := s.sqlConn.QueryRowsCtx(ctx, &rows, query, symbol, exchange, limit); err != nil {
		return nil, fmt.Errorf("store: recent bars %s: %w", symbol, err)
	}
	out := make([]market.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, market.Candle{
			Timestamp: r.BucketStart.In(s.loc),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out, nil
}

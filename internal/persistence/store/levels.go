package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	cachekeys "fno-scanner/internal/cache"
	"fno-scanner/pkg/signal"
)

type levelEntry struct {
	InstrumentKey string  `json:"instrument_key"`
	TradeDate     string  `json:"trade_date"`
	High          float64 `json:"pdh"`
	Low           float64 `json:"pdl"`
	Close         float64 `json:"pdc"`
}

type levelRow struct {
	High  float64 `db:"pdh"`
	Low   float64 `db:"pdl"`
	Close float64 `db:"pdc"`
}

// FindLevel returns the stored reference level of an instrument for the
// trading day containing day, or nil when none is stored.
func (s *Store) FindLevel(ctx context.Context, instrumentKey string, day time.Time) (*signal.Level, error) {
	date := s.tradeDate(day)
	key := cachekeys.LevelKey(instrumentKey, date.Format(time.DateOnly))
	if s.cache != nil {
		var entry levelEntry
		err := s.cache.GetCtx(ctx, key, &entry)
		switch {
		case err == nil:
			return &signal.Level{
				InstrumentKey: instrumentKey,
				TradeDate:     date,
				High:          entry.High,
				Low:           entry.Low,
				Close:         entry.Close,
			}, nil
		case !s.cache.IsNotFound(err):
			logx.WithContext(ctx).Errorf("store: level cache get key=%s err=%v", key, err)
		}
	}

	const query = `SELECT pdh, pdl, pdc FROM daily_levels WHERE instrument_key = $1 AND trade_date = $2`
	var row levelRow
	if err := s.sqlConn.QueryRowCtx(ctx, &row, query, instrumentKey, date); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: find level %s %s: %w", instrumentKey, date.Format(time.DateOnly), err)
	}
	level := &signal.Level{
		InstrumentKey: instrumentKey,
		TradeDate:     date,
		High:          row.High,
		Low:           row.Low,
		Close:         row.Close,
	}
	s.cacheLevel(ctx, *level)
	return level, nil
}

// SaveLevel upserts a reference level; the last writer wins.
func (s *Store) SaveLevel(ctx context.Context, level signal.Level) error {
	date := s.tradeDate(level.TradeDate)
	const stmt = `
INSERT INTO daily_levels (instrument_key, trade_date, pdh, pdl, pdc, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (instrument_key, trade_date) DO UPDATE SET
    pdh = EXCLUDED.pdh,
    pdl = EXCLUDED.pdl,
    pdc = EXCLUDED.pdc,
    updated_at = NOW()`
	if _, err := s.sqlConn.ExecCtx(ctx, stmt, level.InstrumentKey, date, level.High, level.Low, level.Close); err != nil {
		return fmt.Errorf("store: save level %s %s: %w", level.InstrumentKey, date.Format(time.DateOnly), err)
	}
	level.TradeDate = date
	s.cacheLevel(ctx, level)
	return nil
}

func (s *Store) cacheLevel(ctx context.Context, level signal.Level) {
	if s.cache == nil {
		return
	}
	ttl := cachekeys.LevelTTL(s.ttl)
	if ttl <= 0 {
		return
	}
	day := level.TradeDate.Format(time.DateOnly)
	key := cachekeys.LevelKey(level.InstrumentKey, day)
	entry := levelEntry{
		InstrumentKey: level.InstrumentKey,
		TradeDate:     day,
		High:          level.High,
		Low:           level.Low,
		Close:         level.Close,
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, entry, ttl); err != nil {
		logx.WithContext(ctx).Errorf("store: level cache set key=%s err=%v", key, err)
	}
}

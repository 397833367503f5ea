package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "fno-scanner/internal/cache"
	"fno-scanner/pkg/universe"
)

type instrumentRow struct {
	Token    string         `db:"token"`
	Symbol   string         `db:"symbol"`
	Name     sql.NullString `db:"name"`
	Exchange string         `db:"exchange"`
	Segment  sql.NullString `db:"segment"`
	Active   bool           `db:"active"`
}

func (r instrumentRow) toInstrument() universe.Instrument {
	return universe.Instrument{
		Key:      r.Token,
		Symbol:   r.Symbol,
		Name:     r.Name.String,
		Exchange: r.Exchange,
		Segment:  r.Segment.String,
		Active:   r.Active,
	}
}

// SegmentSymbols lists the distinct active symbols of a segment.
func (s *Store) SegmentSymbols(ctx context.Context, segment string) ([]string, error) {
	const query = `
SELECT DISTINCT symbol
FROM instruments
WHERE segment = $1 AND active
ORDER BY symbol`
	key := cachekeys.SegmentSymbolsKey(segment)
	var symbols []string
	if s.cache != nil {
		err := s.cache.GetCtx(ctx, key, &symbols)
		switch {
		case err == nil:
			return symbols, nil
		case !s.cache.IsNotFound(err):
			logx.WithContext(ctx).Errorf("store: segment symbols cache get key=%s err=%v", key, err)
		}
	}
	if err := s.sqlConn.QueryRowsCtx(ctx, &symbols, query, segment); err != nil {
		return nil, fmt.Errorf("store: segment symbols %s: %w", segment, err)
	}
	if s.cache != nil && len(symbols) > 0 {
		if ttl := cachekeys.InstrumentTTL(s.ttl); ttl > 0 {
			if err := s.cache.SetWithExpireCtx(ctx, key, symbols, ttl); err != nil {
				logx.WithContext(ctx).Errorf("store: segment symbols cache set key=%s err=%v", key, err)
			}
		}
	}
	return symbols, nil
}

// InstrumentsBySymbols returns the active instruments of exchange whose
// symbol is listed.
func (s *Store) InstrumentsBySymbols(ctx context.Context, exchange string, symbols []string) ([]universe.Instrument, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	const query = `
SELECT token, symbol, name, exchange, segment, active
FROM instruments
WHERE exchange = $1 AND symbol = ANY($2) AND active
ORDER BY symbol, token`
	var rows []instrumentRow
	if err := s.sqlConn.QueryRowsCtx(ctx, &rows, query, exchange, pq.Array(symbols)); err != nil {
		return nil, fmt.Errorf("store: instruments by symbol: %w", err)
	}
	out := make([]universe.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstrument())
	}
	return out, nil
}

// UpsertInstruments writes instrument master rows in one transaction.
func (s *Store) UpsertInstruments(ctx context.Context, items []universe.Instrument) error {
	if len(items) == 0 {
		return nil
	}
	const stmt = `
INSERT INTO instruments (token, symbol, name, exchange, segment, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (token) DO UPDATE SET
    symbol = EXCLUDED.symbol,
    name = EXCLUDED.name,
    exchange = EXCLUDED.exchange,
    segment = EXCLUDED.segment,
    active = EXCLUDED.active,
    updated_at = NOW()`
	err := s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, it := range items {
			if _, err := session.ExecCtx(ctx, stmt,
				it.Key,
				it.Symbol,
				sql.NullString{String: it.Name, Valid: it.Name != ""},
				it.Exchange,
				sql.NullString{String: it.Segment, Valid: it.Segment != ""},
				it.Active,
			); err != nil {
				return fmt.Errorf("store: upsert instrument %s: %w", it.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateSegments(ctx, items)
	return nil
}

func (s *Store) invalidateSegments(ctx context.Context, items []universe.Instrument) {
	if s.cache == nil {
		return
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, it := range items {
		if _, ok := seen[it.Segment]; ok || it.Segment == "" {
			continue
		}
		seen[it.Segment] = struct{}{}
		keys = append(keys, cachekeys.SegmentSymbolsKey(it.Segment))
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.DelCtx(ctx, keys...); err != nil && !s.cache.IsNotFound(err) {
		logx.WithContext(ctx).Errorf("store: segment symbols cache del err=%v", err)
	}
}

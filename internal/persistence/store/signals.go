package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "fno-scanner/internal/cache"
	"fno-scanner/pkg/signal"
)

type signalRow struct {
	ID            int64          `db:"id"`
	InstrumentKey string         `db:"instrument_key"`
	Symbol        string         `db:"symbol"`
	EventTime     time.Time      `db:"event_time"`
	Rule          string         `db:"rule"`
	SequenceIndex int            `db:"sequence_index"`
	MovePct       float64        `db:"move_pct"`
	Detail        sql.NullString `db:"detail"`
}

func (s *Store) toSignal(r signalRow) signal.Signal {
	return signal.Signal{
		ID:            r.ID,
		InstrumentKey: r.InstrumentKey,
		Symbol:        r.Symbol,
		EventTime:     r.EventTime.In(s.loc),
		Rule:          signal.Rule(r.Rule),
		SequenceIndex: r.SequenceIndex,
		MovePct:       r.MovePct,
		Detail:        r.Detail.String,
	}
}

// recentLimits are the feed sizes served from cache.
var recentLimits = []int{20, 50, 100}

func cacheableLimit(limit int) bool {
	for _, n := range recentLimits {
		if n == limit {
			return true
		}
	}
	return false
}

const signalColumns = `id, instrument_key, symbol, event_time, rule, sequence_index, move_pct, detail`

const insertSignal = `
INSERT INTO signals (instrument_key, symbol, event_time, trade_date, rule, sequence_index, move_pct, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (s *Store) signalArgs(sig signal.Signal) []any {
	return []any{
		sig.InstrumentKey,
		sig.Symbol,
		sig.EventTime,
		s.tradeDate(sig.EventTime),
		string(sig.Rule),
		sig.SequenceIndex,
		sig.MovePct,
		sql.NullString{String: sig.Detail, Valid: sig.Detail != ""},
	}
}

// InsertSignal records one signal. It reports inserted=false, without error,
// when the instrument already has the rule recorded for that trading day.
func (s *Store) InsertSignal(ctx context.Context, sig signal.Signal) (signal.Signal, bool, error) {
	var id int64
	err := s.sqlConn.QueryRowCtx(ctx, &id, insertSignal+` RETURNING id`, s.signalArgs(sig)...)
	if err != nil {
		if isUniqueViolation(err) {
			return sig, false, nil
		}
		return sig, false, fmt.Errorf("store: insert signal %s %s: %w", sig.InstrumentKey, sig.Rule, err)
	}
	sig.ID = id
	s.invalidateRecent(ctx)
	return sig, true, nil
}

// InsertSignals records a batch in one transaction and returns the rows
// actually inserted. Conflicting rows are skipped; any other failure rolls
// back the whole batch.
func (s *Store) InsertSignals(ctx context.Context, batch []signal.Signal) ([]signal.Signal, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	const stmt = insertSignal + `
ON CONFLICT (instrument_key, rule, trade_date) DO NOTHING
RETURNING id`
	var inserted []signal.Signal
	err := s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		inserted = inserted[:0]
		for _, sig := range batch {
			var id int64
			if err := session.QueryRowCtx(ctx, &id, stmt, s.signalArgs(sig)...); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return fmt.Errorf("store: insert signal %s %s: %w", sig.InstrumentKey, sig.Rule, err)
			}
			sig.ID = id
			inserted = append(inserted, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(inserted) > 0 {
		s.invalidateRecent(ctx)
	}
	return inserted, nil
}

// SignalExists reports whether instrumentKey has rule recorded with an event
// time in [from, to).
func (s *Store) SignalExists(ctx context.Context, instrumentKey string, rule signal.Rule, from, to time.Time) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1 FROM signals
    WHERE instrument_key = $1 AND rule = $2 AND event_time >= $3 AND event_time < $4
)`
	var exists bool
	if err := s.sqlConn.QueryRowCtx(ctx, &exists, query, instrumentKey, string(rule), from, to); err != nil {
		return false, fmt.Errorf("store: signal exists %s %s: %w", instrumentKey, rule, err)
	}
	return exists, nil
}

// SignalsBetween lists signals with an event time in [from, to), oldest first.
func (s *Store) SignalsBetween(ctx context.Context, from, to time.Time) ([]signal.Signal, error) {
	query := `SELECT ` + signalColumns + `
FROM signals
WHERE event_time >= $1 AND event_time < $2
ORDER BY event_time, id`
	var rows []signalRow
	if err := s.sqlConn.QueryRowsCtx(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("store: signals between: %w", err)
	}
	return s.toSignals(rows), nil
}

// RecentSignals returns the newest limit signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := cachekeys.SignalsRecentKey(strconv.Itoa(limit))
	cached := s.cache != nil && cacheableLimit(limit)
	if cached {
		var rows []signalRow
		err := s.cache.GetCtx(ctx, key, &rows)
		switch {
		case err == nil:
			return s.toSignals(rows), nil
		case !s.cache.IsNotFound(err):
			logx.WithContext(ctx).Errorf("store: recent signals cache get key=%s err=%v", key, err)
		}
	}

	query := `SELECT ` + signalColumns + `
FROM signals
ORDER BY event_time DESC, id DESC
LIMIT $1`
	var rows []signalRow
	if err := s.sqlConn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("store: recent signals: %w", err)
	}
	if cached {
		if ttl := cachekeys.SignalsRecentTTL(s.ttl); ttl > 0 {
			if err := s.cache.SetWithExpireCtx(ctx, key, rows, ttl); err != nil {
				logx.WithContext(ctx).Errorf("store: recent signals cache set key=%s err=%v", key, err)
			}
		}
	}
	return s.toSignals(rows), nil
}

func (s *Store) toSignals(rows []signalRow) []signal.Signal {
	out := make([]signal.Signal, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.toSignal(r))
	}
	return out
}

// invalidateRecent drops the cached recent feeds served by the API.
func (s *Store) invalidateRecent(ctx context.Context) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(recentLimits))
	for _, n := range recentLimits {
		keys = append(keys, cachekeys.SignalsRecentKey(strconv.Itoa(n)))
	}
	if err := s.cache.DelCtx(ctx, keys...); err != nil && !s.cache.IsNotFound(err) {
		logx.WithContext(ctx).Errorf("store: recent signals cache del err=%v", err)
	}
}

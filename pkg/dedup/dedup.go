// Package dedup guarantees a signal is surfaced at most once per instrument,
// rule and trading day.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/pkg/signal"
)

// Key identifies the uniqueness scope of a signal.
type Key struct {
	InstrumentKey string
	Rule          signal.Rule
	TradeDate     string // YYYY-MM-DD in the exchange location
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.InstrumentKey, k.Rule, k.TradeDate)
}

// KeyFor derives the dedup key of an event in loc.
func KeyFor(instrumentKey string, rule signal.Rule, eventTime time.Time, loc *time.Location) Key {
	if loc == nil {
		loc = time.Local
	}
	return Key{
		InstrumentKey: instrumentKey,
		Rule:          rule,
		TradeDate:     eventTime.In(loc).Format(time.DateOnly),
	}
}

// Store is the durable source of truth for recorded signals.
type Store interface {
	// SignalExists reports whether a signal for instrumentKey and rule has an
	// event time in [from, to).
	SignalExists(ctx context.Context, instrumentKey string, rule signal.Rule, from, to time.Time) (bool, error)
	// SignalsBetween lists signals with an event time in [from, to).
	SignalsBetween(ctx context.Context, from, to time.Time) ([]signal.Signal, error)
}

// Guard claims a key across processes while a signal is being committed.
// Claim returns false when another holder owns the key. Claims are short-lived
// locks; the durable store remains the record of what was surfaced.
type Guard interface {
	Claim(ctx context.Context, key Key) (bool, error)
	Release(ctx context.Context, key Key) error
}

// Deduplicator fronts the durable store with an in-process seen set. Both the
// live and the poll driver share one instance.
type Deduplicator struct {
	store Store
	guard Guard
	loc   *time.Location

	mu   sync.Mutex
	seen map[Key]struct{}
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithLocation sets the exchange location that defines trading-day bounds.
func WithLocation(loc *time.Location) Option {
	return func(d *Deduplicator) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithGuard adds a cross-process claim step before the durable check.
func WithGuard(g Guard) Option {
	return func(d *Deduplicator) {
		d.guard = g
	}
}

// New returns a Deduplicator backed by store.
func New(store Store, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		store: store,
		loc:   time.Local,
		seen:  make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsDuplicate reports whether a signal for (instrumentKey, rule, day of
// eventTime) was already recorded. A false result marks the key seen and
// obliges the caller to persist the signal, or to call Abandon when that
// fails. On error the key is released and the caller should skip the
// candidate for this cycle.
//
// A key claimed by another process without a durable row is reported as a
// duplicate for this call only; it stays unseen so a later cycle asks again.
func (d *Deduplicator) IsDuplicate(ctx context.Context, instrumentKey string, rule signal.Rule, eventTime time.Time) (bool, error) {
	key := KeyFor(instrumentKey, rule, eventTime, d.loc)
	if !d.reserve(key) {
		return true, nil
	}

	if d.store != nil {
		from, to := d.dayRange(eventTime)
		exists, err := d.store.SignalExists(ctx, instrumentKey, rule, from, to)
		if err != nil {
			d.release(key)
			return false, fmt.Errorf("dedup: check %s: %w", key, err)
		}
		if exists {
			return true, nil
		}
	}

	if d.guard != nil {
		claimed, err := d.guard.Claim(ctx, key)
		if err != nil {
			d.release(key)
			return false, fmt.Errorf("dedup: claim %s: %w", key, err)
		}
		if !claimed {
			d.release(key)
			logx.WithContext(ctx).Debugf("dedup: key=%s claimed elsewhere, deferring", key)
			return true, nil
		}
	}
	return false, nil
}

// Abandon gives up the cross-process claim taken by IsDuplicate after the
// signal failed to persist. The key stays in the seen set.
func (d *Deduplicator) Abandon(ctx context.Context, instrumentKey string, rule signal.Rule, eventTime time.Time) {
	if d.guard == nil {
		return
	}
	key := KeyFor(instrumentKey, rule, eventTime, d.loc)
	if err := d.guard.Release(ctx, key); err != nil {
		logx.WithContext(ctx).Errorf("dedup: release guard key=%s err=%v", key, err)
	}
}

// Seen reports whether key is in the in-process set.
func (d *Deduplicator) Seen(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Len returns the number of keys in the seen set.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Warm loads the signals already recorded for day into the seen set.
func (d *Deduplicator) Warm(ctx context.Context, day time.Time) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	from, to := d.dayRange(day)
	signals, err := d.store.SignalsBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("dedup: warm %s: %w", from.Format(time.DateOnly), err)
	}
	d.mu.Lock()
	for _, s := range signals {
		d.seen[KeyFor(s.InstrumentKey, s.Rule, s.EventTime, d.loc)] = struct{}{}
	}
	d.mu.Unlock()
	return len(signals), nil
}

// Rollover drops keys of trading days before day.
func (d *Deduplicator) Rollover(day time.Time) int {
	cutoff := day.In(d.loc).Format(time.DateOnly)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key := range d.seen {
		if key.TradeDate < cutoff {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

func (d *Deduplicator) reserve(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

func (d *Deduplicator) release(key Key) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *Deduplicator) dayRange(t time.Time) (time.Time, time.Time) {
	y, m, day := t.In(d.loc).Date()
	from := time.Date(y, m, day, 0, 0, 0, 0, d.loc)
	return from, from.AddDate(0, 0, 1)
}

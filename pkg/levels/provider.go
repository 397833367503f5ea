// Package levels derives and caches prior-session reference levels.
package levels

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"fno-scanner/pkg/market"
	"fno-scanner/pkg/session"
	"fno-scanner/pkg/signal"
)

const (
	defaultLookbackDays = 5
	defaultFetchTimeout = 10 * time.Second
)

// Store persists reference levels. FindLevel returns nil, nil when absent;
// SaveLevel upserts, so the last writer for a key wins.
type Store interface {
	FindLevel(ctx context.Context, instrumentKey string, day time.Time) (*signal.Level, error)
	SaveLevel(ctx context.Context, level signal.Level) error
}

// Provider resolves the reference level of an instrument for a trading day.
type Provider struct {
	store        Store
	source       market.Provider
	window       session.Window
	exchange     string
	lookback     int
	fetchTimeout time.Duration

	group singleflight.Group

	mu    sync.RWMutex
	cache map[cacheKey]signal.Level
}

type cacheKey struct {
	instrumentKey string
	day           string
}

// Option configures a Provider.
type Option func(*Provider)

// WithLookback sets how many prior weekdays are tried when the previous one
// has no data (exchange holidays).
func WithLookback(days int) Option {
	return func(p *Provider) {
		if days > 0 {
			p.lookback = days
		}
	}
}

// WithFetchTimeout bounds each historical candle request.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithExchange sets the exchange segment passed to the candle source.
func WithExchange(exchange string) Option {
	return func(p *Provider) {
		if exchange != "" {
			p.exchange = exchange
		}
	}
}

// New returns a Provider. store may be nil, in which case levels live only in memory.
func New(store Store, source market.Provider, window session.Window, opts ...Option) *Provider {
	p := &Provider{
		store:        store,
		source:       source,
		window:       window,
		exchange:     "NSE",
		lookback:     defaultLookbackDays,
		fetchTimeout: defaultFetchTimeout,
		cache:        make(map[cacheKey]signal.Level),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns the level for instrumentKey on day, computing and persisting
// it on first use. It returns nil, nil when no prior session data exists.
func (p *Provider) Ensure(ctx context.Context, instrumentKey string, day time.Time) (*signal.Level, error) {
	day = p.window.Day(day)
	key := cacheKey{instrumentKey: instrumentKey, day: day.Format(time.DateOnly)}
	if lvl, ok := p.cached(key); ok {
		return &lvl, nil
	}

	v, err, _ := p.group.Do(key.instrumentKey+"|"+key.day, func() (any, error) {
		if lvl, ok := p.cached(key); ok {
			return &lvl, nil
		}
		return p.load(ctx, key, instrumentKey, day)
	})
	if err != nil {
		return nil, err
	}
	lvl, _ := v.(*signal.Level)
	if lvl == nil {
		return nil, nil
	}
	out := *lvl
	return &out, nil
}

func (p *Provider) load(ctx context.Context, key cacheKey, instrumentKey string, day time.Time) (*signal.Level, error) {
	if p.store != nil {
		found, err := p.store.FindLevel(ctx, instrumentKey, day)
		if err != nil {
			return nil, fmt.Errorf("levels: find %s %s: %w", instrumentKey, key.day, err)
		}
		if found != nil {
			p.remember(key, *found)
			return found, nil
		}
	}

	lvl, ok, err := p.compute(ctx, instrumentKey, day)
	if err != nil || !ok {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.SaveLevel(ctx, lvl); err != nil {
			return nil, fmt.Errorf("levels: save %s %s: %w", instrumentKey, key.day, err)
		}
	}
	p.remember(key, lvl)
	return &lvl, nil
}

// compute walks back over prior weekdays until one has session candles.
func (p *Provider) compute(ctx context.Context, instrumentKey string, day time.Time) (signal.Level, bool, error) {
	if p.source == nil {
		return signal.Level{}, false, nil
	}
	for _, prev := range p.window.PreviousTradingDays(day, p.lookback) {
		if err := ctx.Err(); err != nil {
			return signal.Level{}, false, err
		}
		open, close := p.window.Bounds(prev)
		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		candles, err := p.source.Candles(fetchCtx, market.Query{
			Exchange:      p.exchange,
			InstrumentKey: instrumentKey,
			Interval:      market.IntervalFiveMinute,
			From:          open,
			To:            close,
		})
		cancel()
		if err != nil {
			logx.WithContext(ctx).Errorf("levels: fetch prior session key=%s day=%s err=%v",
				instrumentKey, prev.Format(time.DateOnly), err)
			return signal.Level{}, false, nil
		}
		if lvl, ok := Compute(instrumentKey, day, candles); ok {
			return lvl, true, nil
		}
	}
	return signal.Level{}, false, nil
}

// Compute derives the level from a prior session's candles: the highest
// high, lowest low and last close.
func Compute(instrumentKey string, day time.Time, candles []market.Candle) (signal.Level, bool) {
	if len(candles) == 0 {
		return signal.Level{}, false
	}
	high, low := math.Inf(-1), math.Inf(1)
	var last market.Candle
	for _, c := range candles {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		if last.Timestamp.IsZero() || !c.Timestamp.Before(last.Timestamp) {
			last = c
		}
	}
	return signal.Level{
		InstrumentKey: instrumentKey,
		TradeDate:     day,
		High:          high,
		Low:           low,
		Close:         last.Close,
	}, true
}

// Rollover drops cached levels of trading days before day.
func (p *Provider) Rollover(day time.Time) int {
	cutoff := p.window.Day(day).Format(time.DateOnly)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key := range p.cache {
		if key.day < cutoff {
			delete(p.cache, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached levels.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *Provider) cached(key cacheKey) (signal.Level, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lvl, ok := p.cache[key]
	return lvl, ok
}

func (p *Provider) remember(key cacheKey, lvl signal.Level) {
	p.mu.Lock()
	p.cache[key] = lvl
	p.mu.Unlock()
}

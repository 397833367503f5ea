// Package universe selects the F&O stock universe and maps it onto the cash
// market instruments that carry the price stream.
package universe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	SegmentFNO    = "FNO"
	ExchangeNSE   = "NSE"
	maxSymbolLen  = 6
	defaultMaxAge = 12 * time.Hour
)

// Excluded lists index underlyings that trade in the F&O segment but are not
// stocks.
var Excluded = map[string]struct{}{
	"NIFTY":      {},
	"BANKNIFTY":  {},
	"FINNIFTY":   {},
	"MIDCPNIFTY": {},
}

// Instrument is a tradable instrument known to the broker master.
type Instrument struct {
	Key      string `json:"token"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Segment  string `json:"segment"`
	Active   bool   `json:"active"`
}

// Lister reads the instrument master.
type Lister interface {
	// SegmentSymbols returns the symbols listed in segment, possibly repeated.
	SegmentSymbols(ctx context.Context, segment string) ([]string, error)
	// InstrumentsBySymbols returns the active instruments of exchange whose
	// symbol is in symbols.
	InstrumentsBySymbols(ctx context.Context, exchange string, symbols []string) ([]Instrument, error)
}

// Eligible reports whether an F&O symbol belongs to the stock universe.
func Eligible(symbol string) bool {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || len(symbol) > maxSymbolLen {
		return false
	}
	_, excluded := Excluded[strings.ToUpper(symbol)]
	return !excluded
}

// FilterSymbols returns the distinct eligible symbols in ascending order.
func FilterSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if !Eligible(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Provider caches the resolved universe and answers symbol lookups for it.
type Provider struct {
	lister   Lister
	exchange string
	maxAge   time.Duration
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	items    []Instrument
	symbols  map[string]string
	loadedAt time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithExchange sets the cash exchange the F&O symbols are mapped to.
func WithExchange(exchange string) Option {
	return func(p *Provider) {
		if exchange != "" {
			p.exchange = strings.ToUpper(exchange)
		}
	}
}

// WithMaxAge bounds how long a loaded universe is reused.
func WithMaxAge(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProvider(lister Lister, opts ...Option) *Provider {
	p := &Provider{
		lister:   lister,
		exchange: ExchangeNSE,
		maxAge:   defaultMaxAge,
		now:      time.Now,
		symbols:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Instruments returns the cash instruments of the F&O stock universe, ordered
// by symbol.
func (p *Provider) Instruments(ctx context.Context) ([]Instrument, error) {
	if items, ok := p.fresh(); ok {
		return items, nil
	}
	v, err, _ := p.group.Do("universe", func() (any, error) {
		if items, ok := p.fresh(); ok {
			return items, nil
		}
		return p.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	items := v.([]Instrument)
	out := make([]Instrument, len(items))
	copy(out, items)
	return out, nil
}

func (p *Provider) load(ctx context.Context) ([]Instrument, error) {
	raw, err := p.lister.SegmentSymbols(ctx, SegmentFNO)
	if err != nil {
		return nil, fmt.Errorf("universe: list %s symbols: %w", SegmentFNO, err)
	}
	symbols := FilterSymbols(raw)
	if len(symbols) == 0 {
		p.store(nil)
		return nil, nil
	}
	items, err := p.lister.InstrumentsBySymbols(ctx, p.exchange, symbols)
	if err != nil {
		return nil, fmt.Errorf("universe: map to %s: %w", p.exchange, err)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Symbol == items[j].Symbol {
			return items[i].Key < items[j].Key
		}
		return items[i].Symbol < items[j].Symbol
	})
	p.store(items)
	return items, nil
}

// Symbol resolves an instrument key to its trading symbol.
func (p *Provider) Symbol(ctx context.Context, instrumentKey string) (string, bool, error) {
	if _, err := p.Instruments(ctx); err != nil {
		return "", false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	sym, ok := p.symbols[instrumentKey]
	return sym, ok, nil
}

// Keys returns the instrument keys of the universe.
func (p *Provider) Keys(ctx context.Context) ([]string, error) {
	items, err := p.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return keys, nil
}

// Invalidate forces the next call to reload from the lister.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) fresh() ([]Instrument, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.loadedAt.IsZero() || p.now().Sub(p.loadedAt) > p.maxAge {
		return nil, false
	}
	out := make([]Instrument, len(p.items))
	copy(out, p.items)
	return out, true
}

func (p *Provider) store(items []Instrument) {
	symbols := make(map[string]string, len(items))
	for _, it := range items {
		symbols[it.Key] = it.Symbol
	}
	p.mu.Lock()
	p.items = items
	p.symbols = symbols
	p.loadedAt = p.now()
	p.mu.Unlock()
}

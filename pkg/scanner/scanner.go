// Package scanner drives signal detection from live bars and from periodic
// polls of the opening session candles.
package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"fno-scanner/pkg/candle"
	"fno-scanner/pkg/market"
	"fno-scanner/pkg/session"
	"fno-scanner/pkg/signal"
	"fno-scanner/pkg/universe"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultFetchTimeout = 8 * time.Second
	DefaultWorkers      = 8
	pollBars            = 2
)

// SymbolResolver maps an instrument key to its trading symbol.
type SymbolResolver interface {
	Symbol(ctx context.Context, instrumentKey string) (string, bool, error)
}

// LevelSource yields the reference level of an instrument for a day, or nil
// when none can be established.
type LevelSource interface {
	Ensure(ctx context.Context, instrumentKey string, day time.Time) (*signal.Level, error)
}

// Deduper decides whether a signal was already surfaced for its trading day.
// Abandon is called for an accepted signal that failed to persist.
type Deduper interface {
	IsDuplicate(ctx context.Context, instrumentKey string, rule signal.Rule, eventTime time.Time) (bool, error)
	Abandon(ctx context.Context, instrumentKey string, rule signal.Rule, eventTime time.Time)
}

// SignalStore persists signals. InsertSignal reports inserted=false when a
// row with the same uniqueness key already exists. InsertSignals writes the
// batch in one transaction and returns the rows actually inserted.
type SignalStore interface {
	InsertSignal(ctx context.Context, s signal.Signal) (signal.Signal, bool, error)
	InsertSignals(ctx context.Context, batch []signal.Signal) ([]signal.Signal, error)
}

// Broadcaster pushes committed signals to subscribers.
type Broadcaster interface {
	BroadcastSignal(ctx context.Context, s signal.Signal) int
}

// Universe lists the instruments scanned by the poll driver.
type Universe interface {
	Instruments(ctx context.Context) ([]universe.Instrument, error)
}

// State of the poll loop.
type State string

const (
	StateIdle   State = "IDLE"
	StateActive State = "ACTIVE"
)

// Config tunes the scanner.
type Config struct {
	Bucket       time.Duration
	PollInterval time.Duration
	FetchTimeout time.Duration
	Workers      int
	Exchange     string
	Window       session.Window
	Engine       signal.Config
}

// Deps groups the collaborators of a Scanner.
type Deps struct {
	Symbols   SymbolResolver
	Levels    LevelSource
	Dedup     Deduper
	Store     SignalStore
	Broadcast Broadcaster
	Universe  Universe
	Candles   market.Provider
}

// Result summarises one poll iteration.
type Result struct {
	TradeDate   time.Time
	Instruments int
	Candidates  int
	Committed   []signal.Signal
	Duration    time.Duration
}

// Status is a point-in-time view of the scanner.
type Status struct {
	State      State           `json:"state"`
	TradeDate  string          `json:"trade_date,omitempty"`
	LastScanAt time.Time       `json:"last_scan_at,omitempty"`
	LastScanMs int64           `json:"last_scan_ms"`
	Latest     []signal.Signal `json:"-"`
}

// Scanner runs the live and poll drivers over shared collaborators.
type Scanner struct {
	cfg    Config
	deps   Deps
	engine *signal.Engine
	now    func() time.Time

	rollMu sync.Mutex

	mu       sync.RWMutex
	state    State
	day      time.Time
	latest   []signal.Signal
	lastScan time.Time
	lastTook time.Duration
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the time source of the poll loop.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Scanner {
	if cfg.Bucket <= 0 {
		cfg.Bucket = candle.DefaultBucket
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Exchange == "" {
		cfg.Exchange = universe.ExchangeNSE
	}
	if cfg.Window.Location == nil {
		cfg.Window = session.DefaultWindow()
	}
	s := &Scanner{
		cfg:    cfg,
		deps:   deps,
		engine: signal.NewEngine(cfg.Engine),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Live evaluates a closed bar from the tick stream. Only breakout and
// breakdown rules apply. It returns the committed signal, if any.
func (s *Scanner) Live(ctx context.Context, bar candle.Bar) (signal.Signal, bool, error) {
	s.Rollover(ctx, bar.BucketStart)
	symbol, ok, err := s.deps.Symbols.Symbol(ctx, bar.InstrumentKey)
	if err != nil {
		return signal.Signal{}, false, err
	}
	if !ok {
		return signal.Signal{}, false, nil
	}
	level, err := s.deps.Levels.Ensure(ctx, bar.InstrumentKey, bar.BucketStart)
	if err != nil {
		return signal.Signal{}, false, err
	}
	if level == nil {
		return signal.Signal{}, false, nil
	}

	sig, ok := s.engine.EvaluateLive(bar.InstrumentKey, symbol, engineBar(bar.BucketStart, bar.Open, bar.High, bar.Low, bar.Close), *level)
	if !ok {
		return signal.Signal{}, false, nil
	}
	dup, err := s.deps.Dedup.IsDuplicate(ctx, sig.InstrumentKey, sig.Rule, sig.EventTime)
	if err != nil {
		return signal.Signal{}, false, err
	}
	if dup {
		return signal.Signal{}, false, nil
	}

	stored, inserted, err := s.deps.Store.InsertSignal(ctx, sig)
	if err != nil {
		logx.WithContext(ctx).Errorf("scanner: persist live signal key=%s rule=%s err=%v", sig.InstrumentKey, sig.Rule, err)
		s.deps.Dedup.Abandon(ctx, sig.InstrumentKey, sig.Rule, sig.EventTime)
		return signal.Signal{}, false, err
	}
	if !inserted {
		return signal.Signal{}, false, nil
	}
	logx.WithContext(ctx).Infof("scanner: live signal symbol=%s rule=%s move=%.2f", stored.Symbol, stored.Rule, stored.MovePct)
	s.publish(ctx, stored)
	return stored, true, nil
}

// ScanOnce runs one poll iteration for the trading day containing now and
// commits its signals in a single batch.
func (s *Scanner) ScanOnce(ctx context.Context, now time.Time) (Result, error) {
	started := time.Now()
	day := s.cfg.Window.Day(now)
	open, _ := s.cfg.Window.Bounds(day)
	res := Result{TradeDate: day}

	instruments, err := s.deps.Universe.Instruments(ctx)
	if err != nil {
		return res, err
	}
	res.Instruments = len(instruments)

	var (
		mu         sync.Mutex
		candidates []signal.Signal
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for _, inst := range instruments {
		if ctx.Err() != nil {
			break
		}
		inst := inst
		g.Go(func() error {
			found := s.scanInstrument(ctx, inst, day, open)
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			candidates = append(candidates, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EventTime.Equal(b.EventTime) {
			return a.EventTime.Before(b.EventTime)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Rule < b.Rule
	})
	res.Candidates = len(candidates)

	if len(candidates) > 0 {
		committed, err := s.deps.Store.InsertSignals(ctx, candidates)
		if err != nil {
			logx.WithContext(ctx).Errorf("scanner: commit poll batch size=%d err=%v", len(candidates), err)
			for _, sig := range candidates {
				s.deps.Dedup.Abandon(ctx, sig.InstrumentKey, sig.Rule, sig.EventTime)
			}
			return res, err
		}
		res.Committed = committed
		for _, sig := range committed {
			s.publish(ctx, sig)
		}
	}
	res.Duration = time.Since(started)

	s.mu.Lock()
	s.latest = res.Committed
	s.lastScan = now
	s.lastTook = res.Duration
	s.mu.Unlock()
	return res, nil
}

func (s *Scanner) scanInstrument(ctx context.Context, inst universe.Instrument, day, open time.Time) []signal.Signal {
	level, err := s.deps.Levels.Ensure(ctx, inst.Key, day)
	if err != nil {
		logx.WithContext(ctx).Errorf("scanner: level key=%s symbol=%s err=%v", inst.Key, inst.Symbol, err)
		return nil
	}
	if level == nil {
		return nil
	}

	end := open.Add(pollBars * s.cfg.Bucket)
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	candles, err := s.deps.Candles.Candles(fetchCtx, market.Query{
		Exchange:      s.cfg.Exchange,
		InstrumentKey: inst.Key,
		Interval:      market.IntervalFor(s.cfg.Bucket),
		From:          open,
		To:            end,
	})
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			logx.WithContext(ctx).Errorf("scanner: fetch candles symbol=%s err=%v", inst.Symbol, err)
		}
		return nil
	}

	var out []signal.Signal
	for i, c := range openingCandles(candles, open, end) {
		sig, ok := s.engine.EvaluateFull(inst.Key, inst.Symbol, engineBar(c.Timestamp, c.Open, c.High, c.Low, c.Close), *level, i+1)
		if !ok {
			continue
		}
		dup, err := s.deps.Dedup.IsDuplicate(ctx, sig.InstrumentKey, sig.Rule, sig.EventTime)
		if err != nil {
			logx.WithContext(ctx).Errorf("scanner: dedup symbol=%s rule=%s err=%v", inst.Symbol, sig.Rule, err)
			continue
		}
		if dup {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// openingCandles returns up to the first two candles in [open, end), oldest first.
func openingCandles(candles []market.Candle, open, end time.Time) []market.Candle {
	sorted := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timestamp.Before(open) || !c.Timestamp.Before(end) {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	if len(sorted) > pollBars {
		sorted = sorted[:pollBars]
	}
	return sorted
}

func (s *Scanner) publish(ctx context.Context, sig signal.Signal) {
	if s.deps.Broadcast == nil {
		return
	}
	s.deps.Broadcast.BroadcastSignal(ctx, sig)
}

// Run polls on the configured interval while the trading window is open and
// blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	logx.WithContext(ctx).Infof("scanner: poll loop started interval=%s window=%s", s.cfg.PollInterval, s.cfg.Window)
	s.tick(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.setState(StateIdle)
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	now := s.now().In(s.cfg.Window.Location)
	if !s.cfg.Window.Contains(now) {
		if s.State() == StateActive {
			logx.WithContext(ctx).Infof("scanner: market closed at %s, going idle", now.Format(time.TimeOnly))
		}
		s.setState(StateIdle)
		return
	}

	s.Rollover(ctx, now)
	s.setState(StateActive)

	res, err := s.ScanOnce(ctx, now)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logx.WithContext(ctx).Errorf("scanner: poll iteration err=%v", err)
		}
		return
	}
	logx.WithContext(ctx).Infof("scanner: poll done instruments=%d candidates=%d committed=%d took=%dms",
		res.Instruments, res.Candidates, len(res.Committed), res.Duration.Milliseconds())
}

type roller interface {
	Rollover(day time.Time) int
}

type warmer interface {
	Warm(ctx context.Context, day time.Time) (int, error)
}

type invalidator interface {
	Invalidate()
}

// Rollover moves the scanner to the trading day containing t when that day is
// later than the current one. It reports whether a rollover happened. Both
// drivers call it, and the service calls it once at startup so the seen set is
// loaded even when polling is disabled.
func (s *Scanner) Rollover(ctx context.Context, t time.Time) bool {
	day := s.cfg.Window.Day(t)
	if !s.behind(day) {
		return false
	}
	s.rollMu.Lock()
	defer s.rollMu.Unlock()
	if !s.behind(day) {
		return false
	}
	return s.rollover(ctx, day)
}

func (s *Scanner) behind(day time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day.IsZero() || day.After(s.day)
}

// rollover prunes per-day caches and reloads the seen set for day. The day
// only advances once the seen set is loaded, so a failed warm-up is retried.
func (s *Scanner) rollover(ctx context.Context, day time.Time) bool {
	if r, ok := s.deps.Levels.(roller); ok {
		r.Rollover(day)
	}
	if inv, ok := s.deps.Symbols.(invalidator); ok {
		inv.Invalidate()
	}
	if r, ok := s.deps.Dedup.(roller); ok {
		r.Rollover(day)
	}
	if w, ok := s.deps.Dedup.(warmer); ok {
		n, err := w.Warm(ctx, day)
		if err != nil {
			logx.WithContext(ctx).Errorf("scanner: warm dedup day=%s err=%v", day.Format(time.DateOnly), err)
			return false
		}
		logx.WithContext(ctx).Infof("scanner: new trade date %s, %d signals already recorded", day.Format(time.DateOnly), n)
	}
	s.mu.Lock()
	s.day = day
	s.latest = nil
	s.mu.Unlock()
	return true
}

// State returns the poll loop state.
func (s *Scanner) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Latest returns the signals committed by the last poll iteration.
func (s *Scanner) Latest() []signal.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Signal, len(s.latest))
	copy(out, s.latest)
	return out
}

// Status reports the scanner state and last poll.
func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:      s.state,
		LastScanAt: s.lastScan,
		LastScanMs: s.lastTook.Milliseconds(),
		Latest:     append([]signal.Signal(nil), s.latest...),
	}
	if !s.day.IsZero() {
		st.TradeDate = s.day.Format(time.DateOnly)
	}
	return st
}

func engineBar(start time.Time, open, high, low, close float64) signal.Bar {
	return signal.Bar{Start: start, Open: open, High: high, Low: low, Close: close}
}

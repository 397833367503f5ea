package signal

import (
	"math"
	"time"
)

const (
	DefaultThreshold    = 3.0
	DefaultProximityPct = 0.3
)

// Mode selects which rules an evaluation considers.
type Mode int

const (
	// ModeBreakout recognises PDH_BREAKOUT and PDL_BREAKDOWN only.
	ModeBreakout Mode = iota
	// ModeFull recognises all four rules.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeBreakout:
		return "breakout"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Config tunes rule thresholds.
type Config struct {
	// Threshold is the absolute percentage move separating breakouts from rejections.
	Threshold float64
	// ProximityPct is the distance to a level, in percent, that counts as "near".
	ProximityPct float64
}

// Bar is the OHLC slice of a candle the engine needs.
type Bar struct {
	Start time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Input bundles a single evaluation request.
type Input struct {
	InstrumentKey string
	Symbol        string
	Bar           Bar
	Level         Level
	SequenceIndex int
}

// Engine evaluates bars against reference levels. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	threshold float64
	proximity float64 // fraction, 0.003 for 0.3%
}

// NewEngine returns an Engine, falling back to defaults for non-positive values.
func NewEngine(cfg Config) *Engine {
	threshold := cfg.Threshold
	if threshold <= 0 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	proximity := cfg.ProximityPct
	if proximity <= 0 || math.IsNaN(proximity) {
		proximity = DefaultProximityPct
	}
	return &Engine{threshold: threshold, proximity: proximity / 100}
}

// Threshold returns the configured move threshold in percent.
func (e *Engine) Threshold() float64 { return e.threshold }

// Proximity returns the configured proximity as a fraction.
func (e *Engine) Proximity() float64 { return e.proximity }

// EvaluateLive checks a just-closed live bar for breakouts and breakdowns.
func (e *Engine) EvaluateLive(instrumentKey, symbol string, bar Bar, level Level) (Signal, bool) {
	return e.Evaluate(ModeBreakout, Input{
		InstrumentKey: instrumentKey,
		Symbol:        symbol,
		Bar:           bar,
		Level:         level,
	})
}

// EvaluateFull checks a session bar against all four rules.
func (e *Engine) EvaluateFull(instrumentKey, symbol string, bar Bar, level Level, seq int) (Signal, bool) {
	return e.Evaluate(ModeFull, Input{
		InstrumentKey: instrumentKey,
		Symbol:        symbol,
		Bar:           bar,
		Level:         level,
		SequenceIndex: seq,
	})
}

// Evaluate returns at most one signal for the input. The event time of the
// signal is the bar start.
func (e *Engine) Evaluate(mode Mode, in Input) (Signal, bool) {
	rule, move, ok := e.classify(mode, in.Bar, in.Level)
	if !ok {
		return Signal{}, false
	}
	return Signal{
		InstrumentKey: in.InstrumentKey,
		Symbol:        in.Symbol,
		EventTime:     in.Bar.Start,
		Rule:          rule,
		SequenceIndex: in.SequenceIndex,
		MovePct:       move,
	}, true
}

func (e *Engine) classify(mode Mode, bar Bar, level Level) (Rule, float64, bool) {
	o, c := bar.Open, bar.Close
	if !finite(o) || !finite(c) || o == 0 {
		return "", 0, false
	}
	move := MovePct(o, c)
	green := c > o
	red := c < o
	if !green && !red {
		return "", 0, false
	}

	if mode == ModeFull {
		if red && math.Abs(move) <= e.threshold && Near(c, level.High, e.proximity) {
			return RulePDHRejection, move, true
		}
		if green && math.Abs(move) <= e.threshold && Near(c, level.Low, e.proximity) {
			return RulePDLRejection, move, true
		}
	}
	if green && move > e.threshold && c > level.High {
		return RulePDHBreakout, move, true
	}
	if red && move < -e.threshold && c < level.Low {
		return RulePDLBreakdown, move, true
	}
	return "", 0, false
}

// MovePct is the open-to-close change in percent.
func MovePct(open, close float64) float64 {
	if open == 0 {
		return 0
	}
	return (close - open) / open * 100
}

// Near reports whether price sits within fraction of level. Non-positive or
// non-finite levels are never near.
func Near(price, level, fraction float64) bool {
	if level <= 0 || !finite(level) || !finite(price) {
		return false
	}
	return math.Abs(price-level)/level <= fraction
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package signal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var barStart = time.Date(2025, 1, 6, 9, 15, 0, 0, time.FixedZone("IST", 19800))

func bar(open, close float64) Bar {
	return Bar{Start: barStart, Open: open, High: math.Max(open, close), Low: math.Min(open, close), Close: close}
}

func TestEvaluate_Rules(t *testing.T) {
	engine := NewEngine(Config{})
	level := Level{InstrumentKey: "2885", High: 103.5, Low: 95}

	tests := []struct {
		name     string
		mode     Mode
		bar      Bar
		level    Level
		wantRule Rule
		wantOK   bool
	}{
		{name: "breakout above pdh", mode: ModeFull, bar: bar(100, 104), level: level, wantRule: RulePDHBreakout, wantOK: true},
		{name: "breakout in live mode", mode: ModeBreakout, bar: bar(100, 104), level: level, wantRule: RulePDHBreakout, wantOK: true},
		{name: "big green move below pdh", mode: ModeFull, bar: bar(100, 107), level: Level{High: 110, Low: 95}},
		{name: "breakdown below pdl", mode: ModeFull, bar: bar(100, 94), level: level, wantRule: RulePDLBreakdown, wantOK: true},
		{name: "breakdown in live mode", mode: ModeBreakout, bar: bar(100, 94), level: level, wantRule: RulePDLBreakdown, wantOK: true},
		{name: "red close near pdh", mode: ModeFull, bar: bar(104, 103.4), level: level, wantRule: RulePDHRejection, wantOK: true},
		{name: "green close near pdl", mode: ModeFull, bar: bar(94.5, 95.1), level: level, wantRule: RulePDLRejection, wantOK: true},
		{name: "rejection ignored in live mode", mode: ModeBreakout, bar: bar(104, 103.4), level: level},
		{name: "flat bar", mode: ModeFull, bar: bar(100, 100), level: Level{High: 100, Low: 100}},
		{name: "zero open", mode: ModeFull, bar: bar(0, 104), level: level},
		{name: "move under threshold above pdh", mode: ModeFull, bar: bar(100, 102.5), level: Level{High: 101, Low: 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := engine.Evaluate(tt.mode, Input{InstrumentKey: "2885", Symbol: "RELIANCE", Bar: tt.bar, Level: tt.level})
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantRule, sig.Rule)
				assert.Equal(t, barStart, sig.EventTime)
				assert.Equal(t, "RELIANCE", sig.Symbol)
			}
		})
	}
}

func TestEvaluate_BreakoutMovePct(t *testing.T) {
	engine := NewEngine(Config{Threshold: 3, ProximityPct: 0.3})
	sig, ok := engine.EvaluateLive("2885", "RELIANCE", bar(100, 104), Level{High: 103.5, Low: 90})
	require.True(t, ok)
	assert.InDelta(t, 4.0, sig.MovePct, 1e-9)
	assert.Equal(t, 0, sig.SequenceIndex)
}

func TestEvaluate_RejectionPairsWithLevelTested(t *testing.T) {
	engine := NewEngine(Config{})
	level := Level{High: 120, Low: 99.75}

	// Red close within proximity of PDL pairs with no rule: PDL rejection
	// requires a green bar and PDH rejection requires nearness to PDH.
	_, ok := engine.EvaluateFull("1", "X", bar(100, 99.8), level, 1)
	assert.False(t, ok, "red bar near pdl must not signal")

	sig, ok := engine.EvaluateFull("1", "X", bar(99.6, 99.8), level, 2)
	require.True(t, ok)
	assert.Equal(t, RulePDLRejection, sig.Rule)
	assert.Equal(t, 2, sig.SequenceIndex)
}

func TestEvaluate_SequenceIndexDoesNotAffectRule(t *testing.T) {
	engine := NewEngine(Config{})
	level := Level{High: 103.5, Low: 95}
	a, okA := engine.EvaluateFull("1", "X", bar(100, 104), level, 1)
	b, okB := engine.EvaluateFull("1", "X", bar(100, 104), level, 2)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a.Rule, b.Rule)
	assert.Equal(t, a.MovePct, b.MovePct)
}

func TestNear_GuardsZeroLevel(t *testing.T) {
	assert.False(t, Near(0, 0, 0.003))
	assert.False(t, Near(1, -5, 0.003))
	assert.False(t, Near(math.NaN(), 100, 0.003))
	assert.True(t, Near(100.2, 100, 0.003))
	assert.False(t, Near(100.4, 100, 0.003))
}

func TestNewEngine_Defaults(t *testing.T) {
	engine := NewEngine(Config{Threshold: -1})
	assert.Equal(t, DefaultThreshold, engine.Threshold())
	assert.InDelta(t, 0.003, engine.Proximity(), 1e-12)
}

func TestEvaluate_RulesAreExclusive(t *testing.T) {
	engine := NewEngine(Config{})
	prices := []float64{90, 94.9, 95, 95.2, 99, 99.8, 100, 100.1, 103.4, 103.6, 104, 108, 110.2}
	levels := []Level{{High: 103.5, Low: 95}, {High: 100, Low: 99.9}, {High: 110, Low: 90}}

	for _, lvl := range levels {
		for _, o := range prices {
			for _, c := range prices {
				matched := 0
				for _, rule := range Rules {
					if ruleHolds(engine, rule, o, c, lvl) {
						matched++
					}
				}
				require.LessOrEqualf(t, matched, 1, "open=%v close=%v level=%+v", o, c, lvl)

				sig, ok := engine.Evaluate(ModeFull, Input{Bar: bar(o, c), Level: lvl})
				if matched == 1 {
					require.True(t, ok)
					assert.True(t, ruleHolds(engine, sig.Rule, o, c, lvl))
				} else {
					assert.False(t, ok)
				}
			}
		}
	}
}

// ruleHolds restates each rule condition independently of classify.
func ruleHolds(e *Engine, rule Rule, o, c float64, lvl Level) bool {
	move := MovePct(o, c)
	switch rule {
	case RulePDHBreakout:
		return c > o && move > e.Threshold() && c > lvl.High
	case RulePDLBreakdown:
		return c < o && move < -e.Threshold() && c < lvl.Low
	case RulePDHRejection:
		return c < o && math.Abs(move) <= e.Threshold() && math.Abs(c-lvl.High)/lvl.High <= e.Proximity()
	case RulePDLRejection:
		return c > o && math.Abs(move) <= e.Threshold() && math.Abs(c-lvl.Low)/lvl.Low <= e.Proximity()
	}
	return false
}

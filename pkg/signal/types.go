package signal

import "time"

// Rule names a breakout condition evaluated against the prior-day levels.
type Rule string

const (
	RulePDHBreakout  Rule = "PDH_BREAKOUT"
	RulePDLBreakdown Rule = "PDL_BREAKDOWN"
	RulePDHRejection Rule = "PDH_REJECTION"
	RulePDLRejection Rule = "PDL_REJECTION"
)

// Rules lists every rule in evaluation order.
var Rules = []Rule{RulePDHRejection, RulePDLRejection, RulePDHBreakout, RulePDLBreakdown}

// Valid reports whether r is a known rule.
func (r Rule) Valid() bool {
	switch r {
	case RulePDHBreakout, RulePDLBreakdown, RulePDHRejection, RulePDLRejection:
		return true
	default:
		return false
	}
}

func (r Rule) String() string { return string(r) }

// Level holds the prior session extremes used as reference for a trading day.
type Level struct {
	InstrumentKey string
	TradeDate     time.Time // midnight of the trading day in the exchange location
	High          float64   // prior day high (PDH)
	Low           float64   // prior day low (PDL)
	Close         float64   // prior day close (PDC)
}

// Signal is a single rule firing for an instrument.
type Signal struct {
	ID            int64
	InstrumentKey string
	Symbol        string
	EventTime     time.Time
	Rule          Rule
	SequenceIndex int // 0 for live bars, 1.. for the poll path's opening bars
	MovePct       float64
	Detail        string
}

package cache

import (
	"strings"
	"time"

	"fno-scanner/internal/config"
)

// Namespace is the Redis key prefix for the scanner.
const Namespace = "fnoscan"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 6*time.Hour),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Instruments ------------------------------------------------------------

// SegmentSymbolsKey caches the distinct active symbols of a segment.
func SegmentSymbolsKey(segment string) string {
	return formatKey("instruments", "segment", strings.ToLower(segment))
}

// --- Levels -----------------------------------------------------------------

// LevelKey caches the reference level of an instrument for a trade date.
func LevelKey(instrumentKey, tradeDate string) string {
	return formatKey("level", tradeDate, instrumentKey)
}

// --- Signals ----------------------------------------------------------------

// SignalGuardKey is the cross-process claim for a (instrument, rule, day) triple.
func SignalGuardKey(instrumentKey, rule, tradeDate string) string {
	return formatKey("guard", "signal", tradeDate, instrumentKey, rule)
}

// SignalsRecentKey caches the recent signals feed.
func SignalsRecentKey(limit string) string {
	return formatKey("signals", "recent", limit)
}

// --- TTL Helpers ------------------------------------------------------------

// InstrumentTTL returns the TTL for instrument master data.
func InstrumentTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// LevelTTL returns the TTL for reference levels. Levels are immutable for a
// trade date, so they live for the long class.
func LevelTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// SignalGuardTTL returns the TTL for signal claims. A claim only spans the
// commit of one signal.
func SignalGuardTTL() time.Duration {
	return 2 * time.Minute
}

// SignalsRecentTTL returns the TTL for the recent signals feed.
func SignalsRecentTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLShort, 0.5)
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

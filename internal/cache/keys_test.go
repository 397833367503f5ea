package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fno-scanner/internal/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "fnoscan:level:2025-01-06:1594", LevelKey("1594", "2025-01-06"))
	assert.Equal(t, "fnoscan:guard:signal:2025-01-06:1594:PDH_BREAKOUT", SignalGuardKey("1594", "PDH_BREAKOUT", "2025-01-06"))
	assert.Equal(t, "fnoscan:instruments:segment:fno", SegmentSymbolsKey("FNO"))
	assert.Equal(t, "fnoscan:signals:recent:50", SignalsRecentKey("50"))
	assert.Equal(t, "fnoscan:a:b", FormatCacheKey("a", " ", "b"))
}

func TestTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 10, Medium: 0, Long: -1})
	assert.Equal(t, 10*time.Second, ttl.Short)
	assert.Equal(t, time.Minute, ttl.Medium, "zero falls back to default")
	assert.Zero(t, ttl.Long, "negative disables")
	assert.Equal(t, 5*time.Second, SignalsRecentTTL(ttl))
	assert.Zero(t, LevelTTL(ttl))
	assert.Equal(t, 2*time.Minute, SignalGuardTTL())
}

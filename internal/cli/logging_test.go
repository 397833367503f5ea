package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fno-scanner/internal/config"
	"fno-scanner/pkg/confkit"
	marketpkg "fno-scanner/pkg/market"
)

func TestConfigSummaryLines(t *testing.T) {
	assert.Equal(t, []string{"Configuration: <nil>"}, ConfigSummaryLines(nil))

	cfg := &config.Config{Env: "prod"}
	cfg.Postgres.DSN = "postgres://localhost/fnoscan"
	cfg.Scanner = config.ScannerConf{
		Bucket: 5 * time.Minute, Threshold: 3, ProximityPct: 0.3,
		Open: "09:15", Close: "15:30", Timezone: "Asia/Kolkata",
		PollEnabled: true, PollInterval: time.Minute, Workers: 8,
	}
	cfg.Feed = config.FeedConf{Enabled: true, URL: "wss://feed", Mode: 2, MaxTokens: 500}
	cfg.Market = confkit.Section[marketpkg.Config]{File: "/etc/fnoscan/market.yaml"}

	lines := ConfigSummaryLines(cfg)
	assert.Contains(t, lines, "Environment: prod")
	assert.Contains(t, lines, "Postgres: configured")
	assert.Contains(t, lines, "Redis: not configured")
	assert.Contains(t, lines, "Session: 09:15-15:30 Asia/Kolkata")
	assert.Contains(t, lines, "Bars: 5m0s (threshold 3.00%, proximity 0.30%)")
	assert.Contains(t, lines, "Poll: enabled every 1m0s (8 workers)")
	assert.Contains(t, lines, "Live feed: wss://feed (mode 2, max 500 tokens)")
	assert.Contains(t, lines, "Market config: /etc/fnoscan/market.yaml")
}

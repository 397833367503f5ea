package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/internal/config"
	"fno-scanner/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Session: %s-%s %s", cfg.Scanner.Open, cfg.Scanner.Close, cfg.Scanner.Timezone),
		fmt.Sprintf("Bars: %s (threshold %.2f%%, proximity %.2f%%)", cfg.Scanner.Bucket, cfg.Scanner.Threshold, cfg.Scanner.ProximityPct),
		fmt.Sprintf("Poll: %s every %s (%d workers)", enabled(cfg.Scanner.PollEnabled), cfg.Scanner.PollInterval, cfg.Scanner.Workers),
		fmt.Sprintf("Live feed: %s", feedLine(cfg.Feed)),
		sectionLine("Market config", cfg.Market),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

func feedLine(f config.FeedConf) string {
	if !f.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%s (mode %d, max %d tokens)", f.URL, f.Mode, f.MaxTokens)
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}

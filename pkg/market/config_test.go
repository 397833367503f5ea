package market_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	market "fno-scanner/pkg/market"
	_ "fno-scanner/pkg/market/exchanges/csvfile"
	_ "fno-scanner/pkg/market/exchanges/smartapi"
)

func TestLoadMarketConfig(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
default: angel
providers:
  angel:
    type: smartapi
    base_url: https://apiconnect.angelone.in
    api_key: ${TEST_SMARTAPI_KEY}
    jwt: ${TEST_SMARTAPI_JWT}
    timeout: 6s
    http_timeout: 12s
    max_retries: 4
  replay:
    type: csv
    dir: ./testdata
`
	path := filepath.Join(dir, "market.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_SMARTAPI_KEY", "k-123")
	t.Setenv("TEST_SMARTAPI_JWT", "jwt-456")

	cfg, err := market.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Default != "angel" {
		t.Fatalf("unexpected default: %s", cfg.Default)
	}
	angel := cfg.Providers["angel"]
	if angel.APIKey != "k-123" || angel.JWT != "jwt-456" {
		t.Fatalf("env not expanded: api_key=%q jwt=%q", angel.APIKey, angel.JWT)
	}
	if angel.Timeout.String() != "6s" || angel.HTTPTimeout.String() != "12s" {
		t.Fatalf("timeouts not parsed, got timeout=%s http_timeout=%s", angel.Timeout, angel.HTTPTimeout)
	}
	if angel.Exchange != "NSE" {
		t.Fatalf("exchange should default to NSE, got %q", angel.Exchange)
	}

	providers, err := cfg.BuildProviders()
	if err != nil {
		t.Fatalf("BuildProviders error: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if _, err := cfg.Select(providers); err != nil {
		t.Fatalf("Select error: %v", err)
	}
}

func TestMarketConfigInvalidType(t *testing.T) {
	_, err := market.LoadConfigFromReader(strings.NewReader(`
providers:
  demo:
    type: foobar
`))
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestMarketConfigInvalidTimeout(t *testing.T) {
	_, err := market.LoadConfigFromReader(strings.NewReader(`
providers:
  angel:
    type: smartapi
    timeout: soon
`))
	if err == nil || !strings.Contains(err.Error(), "invalid timeout") {
		t.Fatalf("expected invalid timeout error, got %v", err)
	}
}

func TestMarketConfigCSVRequiresDir(t *testing.T) {
	_, err := market.LoadConfigFromReader(strings.NewReader(`
providers:
  replay:
    type: csv
`))
	if err == nil || !strings.Contains(err.Error(), "requires dir") {
		t.Fatalf("expected csv provider without dir to fail, got %v", err)
	}
}

func TestMarketConfigSelect(t *testing.T) {
	cfg, err := market.LoadConfigFromReader(strings.NewReader(`
providers:
  replay:
    type: csv
    dir: ./testdata
`))
	if err != nil {
		t.Fatalf("LoadConfigFromReader error: %v", err)
	}
	providers, err := cfg.BuildProviders()
	if err != nil {
		t.Fatalf("BuildProviders error: %v", err)
	}
	if _, err := cfg.Select(providers); err != nil {
		t.Fatalf("single provider should be selected without default: %v", err)
	}
	cfg.Default = "missing"
	if _, err := cfg.Select(providers); err == nil {
		t.Fatalf("expected unknown default to fail")
	}
}

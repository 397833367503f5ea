package smartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/pkg/market"
)

const defaultProviderTimeout = 8 * time.Second

// Provider serves historical candles through the SmartAPI client.
type Provider struct {
	client   *Client
	timeout  time.Duration
	exchange string
}

type providerConfig struct {
	timeout      time.Duration
	exchange     string
	clientConfig []Option
}

// ProviderOption customises the SmartAPI provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithExchange sets the exchange segment used when a query omits it.
func WithExchange(exchange string) ProviderOption {
	return func(cfg *providerConfig) {
		if exchange != "" {
			cfg.exchange = exchange
		}
	}
}

// WithClientOptions passes options to the underlying client.
func WithClientOptions(options ...Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.clientConfig = append(cfg.clientConfig, options...)
	}
}

// NewProvider constructs a SmartAPI candle provider.
func NewProvider(opts ...ProviderOption) *Provider {
	cfg := &providerConfig{
		timeout:  defaultProviderTimeout,
		exchange: "NSE",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Provider{
		client:   NewClient(cfg.clientConfig...),
		timeout:  cfg.timeout,
		exchange: cfg.exchange,
	}
}

func init() {
	market.RegisterProvider("smartapi", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		opts := []ProviderOption{WithExchange(cfg.Exchange)}
		clientOptions := []Option{
			WithCredentials(cfg.APIKey, cfg.ClientCode, cfg.JWT),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		if cfg.HTTPTimeout > 0 {
			clientOptions = append(clientOptions, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		if cfg.BaseURL != "" {
			clientOptions = append(clientOptions, WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxRetries > 0 {
			clientOptions = append(clientOptions, WithMaxRetries(cfg.MaxRetries))
		}
		opts = append(opts, WithClientOptions(clientOptions...))
		return NewProvider(opts...), nil
	})
}

// Candles fetches q's range. Rows that cannot be parsed are skipped.
func (p *Provider) Candles(ctx context.Context, q market.Query) ([]market.Candle, error) {
	if strings.TrimSpace(q.InstrumentKey) == "" {
		return nil, fmt.Errorf("smartapi: instrument key is required")
	}
	exchange := q.Exchange
	if exchange == "" {
		exchange = p.exchange
	}
	interval := q.Interval
	if interval == "" {
		interval = market.IntervalFiveMinute
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.client.CandleData(ctx, CandleRequest{
		Exchange:    exchange,
		SymbolToken: q.InstrumentKey,
		Interval:    string(interval),
		FromDate:    q.From.Format(dateLayout),
		ToDate:      q.To.Format(dateLayout),
	})
	if err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseRow(row)
		if err != nil {
			logx.WithContext(ctx).Errorf("smartapi: skip candle token=%s err=%v", q.InstrumentKey, err)
			continue
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

// parseRow decodes ["2025-01-06T09:15:00+05:30", o, h, l, c, v].
func parseRow(row []json.RawMessage) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}
	var rawTS string
	if err := json.Unmarshal(row[0], &rawTS); err != nil {
		return market.Candle{}, fmt.Errorf("candle timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		return market.Candle{}, fmt.Errorf("candle timestamp %q: %w", rawTS, err)
	}
	values := make([]float64, 5)
	for i := range values {
		v, err := parseNumber(row[i+1])
		if err != nil {
			return market.Candle{}, fmt.Errorf("candle field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return market.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

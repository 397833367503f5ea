package smartapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fno-scanner/pkg/market"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func newMockProvider(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Provider) {
	t.Helper()
	server := httptest.NewServer(handler)
	provider := NewProvider(
		WithTimeout(2*time.Second),
		WithClientOptions(
			WithBaseURL(server.URL),
			WithCredentials("key", "A123", "jwt-token"),
			WithMaxRetries(1),
		),
	)
	return server, provider
}

func TestProviderCandles(t *testing.T) {
	var got CandleRequest
	server, provider := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, candlePath, r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		assert.Equal(t, "key", r.Header.Get("X-PrivateKey"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2025-01-06T09:20:00+05:30",101.5,103,101,102.5,1200],
			["2025-01-06T09:15:00+05:30",100,102,99.5,101.5,"2500"],
			["bad-row"]
		]}`))
	})
	defer server.Close()

	from := time.Date(2025, 1, 6, 9, 15, 0, 0, ist)
	candles, err := provider.Candles(context.Background(), market.Query{
		InstrumentKey: "2885",
		From:          from,
		To:            from.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, "NSE", got.Exchange)
	assert.Equal(t, "2885", got.SymbolToken)
	assert.Equal(t, "FIVE_MINUTE", got.Interval)
	assert.Equal(t, "2025-01-06 09:15", got.FromDate)
	assert.Equal(t, "2025-01-06 09:25", got.ToDate)

	assert.True(t, candles[0].Timestamp.Equal(from), "candles sorted oldest first")
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 2500.0, candles[0].Volume)
	assert.Equal(t, 102.5, candles[1].Close)
}

func TestProviderCandles_EmptyData(t *testing.T) {
	server, provider := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"SUCCESS","data":null}`))
	})
	defer server.Close()

	candles, err := provider.Candles(context.Background(), market.Query{InstrumentKey: "2885"})
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestProviderCandles_APIError(t *testing.T) {
	server, provider := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`))
	})
	defer server.Close()

	_, err := provider.Candles(context.Background(), market.Query{InstrumentKey: "2885"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "AG8001", apiErr.Code)
}

func TestProviderCandles_Unauthorized(t *testing.T) {
	server, provider := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer server.Close()

	_, err := provider.Candles(context.Background(), market.Query{InstrumentKey: "2885"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server, provider := newMockProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"data":[["2025-01-06T09:15:00+05:30",1,2,0.5,1.5,10]]}`))
	})
	defer server.Close()

	candles, err := provider.Candles(context.Background(), market.Query{InstrumentKey: "2885"})
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_MissingCredentials(t *testing.T) {
	client := NewClient()
	_, err := client.CandleData(context.Background(), CandleRequest{SymbolToken: "2885"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestParseRow_RejectsShortRows(t *testing.T) {
	_, err := parseRow([]json.RawMessage{json.RawMessage(`"2025-01-06T09:15:00+05:30"`)})
	assert.Error(t, err)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fno-scanner/internal/config"
	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
	"fno-scanner/pkg/broadcast"
	"fno-scanner/pkg/candle"
	"fno-scanner/pkg/market"
	"fno-scanner/pkg/scanner"
	"fno-scanner/pkg/session"
	"fno-scanner/pkg/signal"
	"fno-scanner/pkg/universe"
)

type fakeSignals struct {
	rows   []signal.Signal
	err    error
	limits []int
}

func (f *fakeSignals) RecentSignals(_ context.Context, limit int) ([]signal.Signal, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

type fakeBars struct {
	symbol, exchange string
	limit            int
	rows             []market.Candle
}

func (f *fakeBars) RecentBars(_ context.Context, symbol, exchange string, limit int) ([]market.Candle, error) {
	f.symbol, f.exchange, f.limit = symbol, exchange, limit
	return f.rows, nil
}

type fakeLive map[string]candle.Bar

func (f fakeLive) Live(key string) (candle.Bar, bool) {
	b, ok := f[key]
	return b, ok
}

type fakeInstruments []universe.Instrument

func (f fakeInstruments) Instruments(context.Context) ([]universe.Instrument, error) {
	return f, nil
}

type fakeStatus scanner.Status

func (f fakeStatus) Status() scanner.Status { return scanner.Status(f) }

type env struct {
	svcCtx  *svc.ServiceContext
	signals *fakeSignals
	bars    *fakeBars
	at      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	w := session.DefaultWindow()
	at := time.Date(2025, 1, 6, 9, 15, 0, 0, w.Location)
	e := &env{
		signals: &fakeSignals{rows: []signal.Signal{
			{ID: 2, InstrumentKey: "3045", Symbol: "SBIN", Rule: signal.RulePDLBreakdown, EventTime: at.Add(5 * time.Minute), SequenceIndex: 2, MovePct: -4.5},
			{ID: 1, InstrumentKey: "1594", Symbol: "INFY", Rule: signal.RulePDHBreakout, EventTime: at, MovePct: 3.2},
		}},
		bars: &fakeBars{rows: []market.Candle{{Timestamp: at, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10}}},
		at:   at,
	}
	cfg := config.Config{Scanner: config.ScannerConf{Exchange: "NSE"}}
	e.svcCtx = &svc.ServiceContext{
		Config:   cfg,
		Window:   w,
		Hub:      broadcast.NewHub(),
		Signals:  e.signals,
		Bars:     e.bars,
		LiveBars: fakeLive{"1594": {InstrumentKey: "1594", BucketStart: at, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 7}},
		Status:   fakeStatus{State: scanner.StateActive, TradeDate: "2025-01-06", LastScanAt: at, LastScanMs: 120},
	}
	e.svcCtx.Instruments = fakeInstruments{
		{Key: "1594", Symbol: "INFY", Exchange: "NSE"},
		{Key: "3045", Symbol: "SBIN", Exchange: "NSE"},
	}
	return e
}

func (e *env) get(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSignalsHandler(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, signalsHandler(e.svcCtx), "/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.SignalsResponse](t, rec)
	require.Len(t, resp.Signals, 2)
	assert.Equal(t, "SBIN", resp.Signals[0].Symbol)
	assert.Equal(t, "PDL_BREAKDOWN", resp.Signals[0].Rule)
	assert.Equal(t, "2025-01-06T09:20:00+05:30", resp.Signals[0].Time)
	assert.Equal(t, []int{50}, e.signals.limits, "default limit")

	rec = e.get(t, signalsHandler(e.svcCtx), "/signals?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[types.SignalsResponse](t, rec).Signals, 1)

	rec = e.get(t, signalsHandler(e.svcCtx), "/signals?limit=201")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestSignalsHandler_Bounds(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, latestSignalsHandler(e.svcCtx), "/signals/latest?limit=100")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.get(t, latestSignalsHandler(e.svcCtx), "/signals/latest?limit=101")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalsHandler_StoreError(t *testing.T) {
	e := newEnv(t)
	e.signals.err = errors.New("db down")
	rec := e.get(t, signalsHandler(e.svcCtx), "/signals")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDashboardHandler(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, dashboardHandler(e.svcCtx), "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.DashboardResponse](t, rec)
	assert.Equal(t, "ACTIVE", resp.State)
	assert.Equal(t, "2025-01-06", resp.TradeDate)
	assert.Equal(t, int64(120), resp.LastScanMs)
	assert.Len(t, resp.Signals, 2)
	assert.Empty(t, resp.LastBatch)
	assert.Equal(t, []int{20}, e.signals.limits)
}

func TestCandlesHandler(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, candlesHandler(e.svcCtx), "/market/candles?symbol=infy")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.CandlesResponse](t, rec)
	assert.Equal(t, "INFY", resp.Symbol)
	require.Len(t, resp.Candles, 1)
	assert.Equal(t, 10.0, resp.Candles[0].Volume)
	assert.Equal(t, "INFY", e.bars.symbol)
	assert.Equal(t, "NSE", e.bars.exchange)
	assert.Equal(t, 100, e.bars.limit)

	rec = e.get(t, candlesHandler(e.svcCtx), "/market/candles")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveBarHandler(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, liveBarHandler(e.svcCtx), "/market/live?key=1594")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.LiveBarResponse](t, rec)
	assert.Equal(t, 100.5, resp.Close)
	assert.Equal(t, "2025-01-06T09:15:00+05:30", resp.BucketStart)

	rec = e.get(t, liveBarHandler(e.svcCtx), "/market/live?key=999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFnoInstrumentsHandler(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, fnoInstrumentsHandler(e.svcCtx), "/instruments/fno")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.InstrumentsResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "1594", resp.Instruments[0].Token)
}

func TestHealthHandler(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, healthHandler(e.svcCtx), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ACTIVE", resp.State)
	assert.Zero(t, resp.Subscribers)
}

func TestRoutes(t *testing.T) {
	e := newEnv(t)
	e.svcCtx.WS = broadcast.NewServer(e.svcCtx.Hub, broadcast.ServerOptions{})
	paths := make(map[string]bool)
	for _, r := range Routes(e.svcCtx) {
		paths[r.Path] = true
	}
	for _, p := range []string{"/health", "/signals", "/signals/latest", "/dashboard", "/market/candles", "/market/live", "/instruments/fno", "/ws"} {
		assert.True(t, paths[p], p)
	}
}

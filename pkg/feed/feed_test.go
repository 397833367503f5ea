package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestDecode_QuotePacket(t *testing.T) {
	loc := ist(t)
	ts := time.Date(2025, 1, 6, 9, 16, 30, 0, loc)
	raw := Encode(Tick{InstrumentKey: "2885", Price: 1234.55, Volume: 25, Timestamp: ts, Sequence: 7}, true)

	tick, err := Decode(raw, time.Now().In(loc))
	require.NoError(t, err)
	assert.Equal(t, "2885", tick.InstrumentKey)
	assert.Equal(t, 1234.55, tick.Price)
	assert.Equal(t, 25.0, tick.Volume)
	assert.True(t, ts.Equal(tick.Timestamp))
	assert.Equal(t, loc, tick.Timestamp.Location())
	assert.Equal(t, int64(7), tick.Sequence)
}

func TestDecode_LTPPacketHasNoVolume(t *testing.T) {
	raw := Encode(Tick{InstrumentKey: "1594", Price: 1500, Timestamp: time.UnixMilli(1736135100000)}, false)
	tick, err := Decode(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1500.0, tick.Price)
	assert.Zero(t, tick.Volume)
}

func TestDecode_MissingTimestampUsesNow(t *testing.T) {
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	raw := Encode(Tick{InstrumentKey: "1594", Price: 10}, false)
	tick, err := Decode(raw, now)
	require.NoError(t, err)
	assert.Equal(t, now, tick.Timestamp)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(make([]byte, 10), time.Now())
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = Decode(make([]byte, ltpPacketLen), time.Now())
	assert.Error(t, err, "empty token")

	raw := Encode(Tick{InstrumentKey: "1594", Price: 0}, false)
	_, err = Decode(raw, time.Now())
	assert.Error(t, err, "zero price")
}

func TestNewSubscribeRequest(t *testing.T) {
	req := NewSubscribeRequest(ModeQuote, ExchangeNSECM, []string{"2885", "1594", "2885", ""})
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(1), decoded["action"])
	assert.NotEmpty(t, decoded["correlationID"])
	params := decoded["params"].(map[string]any)
	assert.Equal(t, float64(ModeQuote), params["mode"])
	group := params["tokenList"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(1), group["exchangeType"])
	assert.Equal(t, []any{"2885", "1594"}, group["tokens"])
}

func TestStream_SubscribesAndDeliversTicks(t *testing.T) {
	loc := ist(t)
	upgrader := websocket.Upgrader{}
	var (
		mu      sync.Mutex
		headers http.Header
		sub     SubscribeRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var req SubscribeRequest
		if !assert.NoError(t, conn.ReadJSON(&req)) {
			return
		}
		mu.Lock()
		headers = r.Header.Clone()
		sub = req
		mu.Unlock()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		ts := time.Date(2025, 1, 6, 9, 15, 5, 0, loc)
		_ = conn.WriteMessage(websocket.BinaryMessage, Encode(Tick{InstrumentKey: "2885", Price: 101.25, Volume: 3, Timestamp: ts}, true))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewStream(Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		ClientCode: "C123",
		FeedToken:  "feed-token",
		APIKey:     "api-key",
		Location:   loc,
		MaxTokens:  1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan Tick, 4)
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, []string{"2885", "1594"}, func(t Tick) { ticks <- t })
	}()

	select {
	case tick := <-ticks:
		assert.Equal(t, "2885", tick.InstrumentKey)
		assert.Equal(t, 101.25, tick.Price)
		assert.Equal(t, 3.0, tick.Volume)
	case <-time.After(3 * time.Second):
		t.Fatal("no tick delivered")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "C123", headers.Get("X-Client-Code"))
	assert.Equal(t, "feed-token", headers.Get("X-Feed-Token"))
	assert.Equal(t, "api-key", headers.Get("X-Api-Key"))
	assert.Equal(t, []string{"2885"}, sub.Params.TokenList[0].Tokens, "capped by MaxTokens")
	assert.Equal(t, int64(1), stream.Dropped())
}

func TestStream_RequiresTokens(t *testing.T) {
	err := NewStream(Config{}).Run(context.Background(), nil, func(Tick) {})
	assert.Error(t, err)
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	DefaultURL               = "wss://smartapisocket.angelone.in/smart-stream"
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxTokens         = 1000
	actionSubscribe          = 1
)

// Config configures a Stream.
type Config struct {
	URL          string
	ClientCode   string
	FeedToken    string
	APIKey       string
	Mode         int
	ExchangeType int
	MaxTokens    int

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Location          *time.Location
}

// SubscribeRequest is the JSON subscription message.
type SubscribeRequest struct {
	CorrelationID string          `json:"correlationID"`
	Action        int             `json:"action"`
	Params        SubscribeParams `json:"params"`
}

type SubscribeParams struct {
	Mode      int          `json:"mode"`
	TokenList []TokenGroup `json:"tokenList"`
}

type TokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// NewSubscribeRequest builds a subscription for tokens, dropping duplicates.
func NewSubscribeRequest(mode, exchangeType int, tokens []string) SubscribeRequest {
	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok || tok == "" {
			continue
		}
		seen[tok] = struct{}{}
		unique = append(unique, tok)
	}
	return SubscribeRequest{
		CorrelationID: uuid.NewString()[:10],
		Action:        actionSubscribe,
		Params: SubscribeParams{
			Mode:      mode,
			TokenList: []TokenGroup{{ExchangeType: exchangeType, Tokens: unique}},
		},
	}
}

// Handler consumes decoded ticks. It runs on the stream's read goroutine.
type Handler func(Tick)

// Stream maintains a smart-stream connection, reconnecting until its context
// ends.
type Stream struct {
	cfg    Config
	dialer *websocket.Dialer
	now    func() time.Time

	dropped atomic.Int64
}

// Option configures a Stream.
type Option func(*Stream)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Stream) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithClock overrides the time source used for packets without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStream(cfg Config, opts ...Option) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Mode == 0 {
		cfg.Mode = ModeQuote
	}
	if cfg.ExchangeType == 0 {
		cfg.ExchangeType = ExchangeNSECM
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Stream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dropped returns how many packets failed to decode.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Run subscribes to tokens and feeds ticks to handle until ctx is done.
func (s *Stream) Run(ctx context.Context, tokens []string, handle Handler) error {
	if len(tokens) == 0 {
		return errors.New("feed: no tokens to subscribe")
	}
	if len(tokens) > s.cfg.MaxTokens {
		logx.WithContext(ctx).Infof("feed: capping subscription tokens=%d max=%d", len(tokens), s.cfg.MaxTokens)
		tokens = tokens[:s.cfg.MaxTokens]
	}
	for {
		err := s.session(ctx, tokens, handle)
		if ctx.Err() != nil {
			return nil
		}
		logx.WithContext(ctx).Errorf("feed: connection lost, reconnecting in %s err=%v", s.cfg.ReconnectDelay, err)
		if err := sleepWithContext(ctx, s.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

func (s *Stream) session(ctx context.Context, tokens []string, handle Handler) error {
	header := http.Header{}
	header.Set("X-Client-Code", s.cfg.ClientCode)
	header.Set("X-Feed-Token", s.cfg.FeedToken)
	header.Set("X-Api-Key", s.cfg.APIKey)

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("feed: dial status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(kind int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(kind, data)
	}

	req := NewSubscribeRequest(s.cfg.Mode, s.cfg.ExchangeType, tokens)
	writeMu.Lock()
	err = conn.WriteJSON(req)
	writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	logx.WithContext(ctx).Infof("feed: subscribed tokens=%d mode=%d correlation=%s",
		len(req.Params.TokenList[0].Tokens), s.cfg.Mode, req.CorrelationID)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.TextMessage, []byte("ping")); err != nil {
					logx.WithContext(sessionCtx).Errorf("feed: heartbeat err=%v", err)
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		tick, err := Decode(data, s.now().In(s.cfg.Location))
		if err != nil {
			s.dropped.Add(1)
			logx.WithContext(ctx).Debugf("feed: drop packet err=%v", err)
			continue
		}
		handle(tick)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package broadcast pushes scanner events to connected subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/pkg/signal"
)

const TypeSignal = "signal"

// Message is the envelope delivered to subscribers.
type Message struct {
	Type    string `json:"type" msgpack:"type"`
	Payload any    `json:"payload" msgpack:"payload"`
}

// SignalPayload is the subscriber view of a signal.
type SignalPayload struct {
	Symbol        string    `json:"symbol" msgpack:"symbol"`
	InstrumentKey string    `json:"instrument_key" msgpack:"instrument_key"`
	Rule          string    `json:"rule" msgpack:"rule"`
	Time          time.Time `json:"time" msgpack:"time"`
	MovePct       float64   `json:"move_pct" msgpack:"move_pct"`
	SequenceIndex int       `json:"sequence_index" msgpack:"sequence_index"`
}

// SignalMessage wraps s for delivery.
func SignalMessage(s signal.Signal) Message {
	return Message{
		Type: TypeSignal,
		Payload: SignalPayload{
			Symbol:        s.Symbol,
			InstrumentKey: s.InstrumentKey,
			Rule:          s.Rule.String(),
			Time:          s.EventTime,
			MovePct:       s.MovePct,
			SequenceIndex: s.SequenceIndex,
		},
	}
}

// Codec turns a Message into a wire frame.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	// Binary reports whether frames must be sent as binary websocket messages.
	Binary() bool
}

type jsonCodec struct{}

func (jsonCodec) Name() string                     { return "json" }
func (jsonCodec) Encode(m Message) ([]byte, error) { return json.Marshal(m) }
func (jsonCodec) Binary() bool                     { return false }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                     { return "msgpack" }
func (msgpackCodec) Encode(m Message) ([]byte, error) { return msgpack.Marshal(m) }
func (msgpackCodec) Binary() bool                     { return true }

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecFor maps a format name to its codec, defaulting to JSON.
func CodecFor(format string) Codec {
	if format == MsgPack.Name() {
		return MsgPack
	}
	return JSON
}

// Subscriber receives encoded frames. Send must not block; it returns false
// when the frame could not be queued.
type Subscriber interface {
	Codec() Codec
	Send(frame []byte) bool
	Close()
}

// Hub fans messages out to subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]Subscriber)}
}

// Add registers sub and returns its id.
func (h *Hub) Add(sub Subscriber) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return id
}

// Remove unregisters and closes the subscriber with id.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers msg to every subscriber and returns how many accepted
// it. Subscribers that cannot accept the frame are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	h.mu.RLock()
	snapshot := make(map[string]Subscriber, len(h.subs))
	for id, sub := range h.subs {
		snapshot[id] = sub
	}
	h.mu.RUnlock()

	frames := make(map[string][]byte, 2)
	delivered := 0
	var dropped []string
	for id, sub := range snapshot {
		codec := sub.Codec()
		frame, ok := frames[codec.Name()]
		if !ok {
			encoded, err := codec.Encode(msg)
			if err != nil {
				logx.WithContext(ctx).Errorf("broadcast: encode type=%s codec=%s err=%v", msg.Type, codec.Name(), err)
				encoded = nil
			}
			frames[codec.Name()] = encoded
			frame = encoded
		}
		if frame == nil {
			continue
		}
		if sub.Send(frame) {
			delivered++
			continue
		}
		dropped = append(dropped, id)
	}

	for _, id := range dropped {
		h.Remove(id)
	}
	if len(dropped) > 0 {
		logx.WithContext(ctx).Infof("broadcast: dropped slow subscribers count=%d", len(dropped))
	}
	return delivered
}

// BroadcastSignal delivers s as a signal message.
func (h *Hub) BroadcastSignal(ctx context.Context, s signal.Signal) int {
	return h.Broadcast(ctx, SignalMessage(s))
}

// CloseAll removes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

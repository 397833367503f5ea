// Package feed streams live ticks from the SmartAPI smart-stream websocket.
package feed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Subscription modes.
const (
	ModeLTP   = 1
	ModeQuote = 2
	ModeSnap  = 3
)

// Exchange types.
const (
	ExchangeNSECM = 1
	ExchangeNSEFO = 2
)

const (
	ltpPacketLen   = 51
	quotePacketLen = 75
)

var ErrShortPacket = errors.New("feed: packet too short")

// Tick is a single trade print for an instrument.
type Tick struct {
	InstrumentKey string
	Price         float64
	Volume        float64
	Timestamp     time.Time
	Sequence      int64
}

// Decode parses a binary smart-stream packet. Prices arrive in paise. When
// the packet carries no exchange timestamp, now is used.
func Decode(raw []byte, now time.Time) (Tick, error) {
	if len(raw) < ltpPacketLen {
		return Tick{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(raw))
	}
	token := string(bytes.TrimRight(raw[2:27], "\x00"))
	if token == "" {
		return Tick{}, errors.New("feed: packet without token")
	}
	seq := int64(binary.LittleEndian.Uint64(raw[27:35]))
	tsMillis := int64(binary.LittleEndian.Uint64(raw[35:43]))
	paise := int64(binary.LittleEndian.Uint64(raw[43:51]))
	if paise <= 0 {
		return Tick{}, fmt.Errorf("feed: non-positive price token=%s", token)
	}

	ts := now
	if tsMillis > 0 {
		ts = time.UnixMilli(tsMillis).In(now.Location())
	}
	tick := Tick{
		InstrumentKey: token,
		Price:         decimal.New(paise, -2).InexactFloat64(),
		Timestamp:     ts,
		Sequence:      seq,
	}
	if len(raw) >= quotePacketLen {
		tick.Volume = float64(binary.LittleEndian.Uint64(raw[51:59]))
	}
	return tick, nil
}

// Encode builds a packet in the layout Decode reads. quote adds the last
// traded quantity field.
func Encode(t Tick, quote bool) []byte {
	size := ltpPacketLen
	mode := byte(ModeLTP)
	if quote {
		size = quotePacketLen
		mode = ModeQuote
	}
	raw := make([]byte, size)
	raw[0] = mode
	raw[1] = ExchangeNSECM
	copy(raw[2:27], t.InstrumentKey)
	binary.LittleEndian.PutUint64(raw[27:35], uint64(t.Sequence))
	if !t.Timestamp.IsZero() {
		binary.LittleEndian.PutUint64(raw[35:43], uint64(t.Timestamp.UnixMilli()))
	}
	paise := decimal.NewFromFloat(t.Price).Shift(2).Round(0).IntPart()
	binary.LittleEndian.PutUint64(raw[43:51], uint64(paise))
	if quote {
		binary.LittleEndian.PutUint64(raw[51:59], uint64(t.Volume))
	}
	return raw
}

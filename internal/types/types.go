// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package types

type HealthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	TradeDate   string `json:"trade_date,omitempty"`
	Subscribers int    `json:"subscribers"`
	Time        string `json:"time"`
}

type SignalItem struct {
	ID            int64   `json:"id"`
	Symbol        string  `json:"symbol"`
	InstrumentKey string  `json:"instrument_key"`
	Rule          string  `json:"rule"`
	Time          string  `json:"time"`
	SequenceIndex int     `json:"sequence_index"`
	MovePct       float64 `json:"move_pct"`
	Detail        string  `json:"detail,omitempty"`
}

type SignalsRequest struct {
	Limit int `form:"limit,default=50,range=[1:200]"`
}

type LatestSignalsRequest struct {
	Limit int `form:"limit,default=50,range=[1:100]"`
}

type SignalsResponse struct {
	Signals []SignalItem `json:"signals"`
}

type DashboardResponse struct {
	State       string       `json:"state"`
	TradeDate   string       `json:"trade_date,omitempty"`
	LastScanAt  string       `json:"last_scan_at,omitempty"`
	LastScanMs  int64        `json:"last_scan_ms"`
	Subscribers int          `json:"subscribers"`
	Signals     []SignalItem `json:"signals"`
	LastBatch   []SignalItem `json:"last_batch"`
}

type CandlesRequest struct {
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit,default=100,range=[1:1000]"`
}

type CandleItem struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type CandlesResponse struct {
	Symbol  string       `json:"symbol"`
	Candles []CandleItem `json:"candles"`
}

type LiveBarRequest struct {
	Key string `form:"key"`
}

type LiveBarResponse struct {
	InstrumentKey string  `json:"instrument_key"`
	BucketStart   string  `json:"bucket_start"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
}

type InstrumentItem struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange"`
	Segment  string `json:"segment,omitempty"`
}

type InstrumentsResponse struct {
	Count       int              `json:"count"`
	Instruments []InstrumentItem `json:"instruments"`
}

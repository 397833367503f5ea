package logic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
)

type MarketLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewMarketLogic(ctx context.Context, svcCtx *svc.ServiceContext) *MarketLogic {
	return &MarketLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Candles returns the latest persisted bars of a symbol, oldest first.
func (l *MarketLogic) Candles(req *types.CandlesRequest) (*types.CandlesResponse, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalid)
	}
	rows, err := l.svcCtx.Bars.RecentBars(l.ctx, symbol, l.svcCtx.Config.Scanner.Exchange, req.Limit)
	if err != nil {
		l.Errorf("market: candles symbol=%s err=%v", symbol, err)
		return nil, err
	}
	resp := &types.CandlesResponse{Symbol: symbol, Candles: make([]types.CandleItem, 0, len(rows))}
	for _, c := range rows {
		resp.Candles = append(resp.Candles, types.CandleItem{
			Time:   c.Timestamp.Format(time.RFC3339),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return resp, nil
}

// Live returns the in-progress bar of an instrument.
func (l *MarketLogic) Live(req *types.LiveBarRequest) (*types.LiveBarResponse, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalid)
	}
	bar, ok := l.svcCtx.LiveBars.Live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return &types.LiveBarResponse{
		InstrumentKey: bar.InstrumentKey,
		BucketStart:   bar.BucketStart.Format(time.RFC3339),
		Open:          bar.Open,
		High:          bar.High,
		Low:           bar.Low,
		Close:         bar.Close,
		Volume:        bar.Volume,
	}, nil
}

package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
)

type InstrumentsLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewInstrumentsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *InstrumentsLogic {
	return &InstrumentsLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Fno lists the scanned F&O stock universe ordered by symbol.
func (l *InstrumentsLogic) Fno() (*types.InstrumentsResponse, error) {
	items, err := l.svcCtx.Instruments.Instruments(l.ctx)
	if err != nil {
		l.Errorf("instruments: universe err=%v", err)
		return nil, err
	}
	resp := &types.InstrumentsResponse{Count: len(items), Instruments: make([]types.InstrumentItem, 0, len(items))}
	for _, it := range items {
		resp.Instruments = append(resp.Instruments, types.InstrumentItem{
			Token:    it.Key,
			Symbol:   it.Symbol,
			Name:     it.Name,
			Exchange: it.Exchange,
			Segment:  it.Segment,
		})
	}
	return resp, nil
}

package logic

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
	"fno-scanner/pkg/signal"
)

type SignalsLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewSignalsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *SignalsLogic {
	return &SignalsLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Signals lists recorded signals, newest first.
func (l *SignalsLogic) Signals(req *types.SignalsRequest) (*types.SignalsResponse, error) {
	return l.recent(req.Limit)
}

// Latest serves the compact feed polled by dashboards.
func (l *SignalsLogic) Latest(req *types.LatestSignalsRequest) (*types.SignalsResponse, error) {
	return l.recent(req.Limit)
}

func (l *SignalsLogic) recent(limit int) (*types.SignalsResponse, error) {
	rows, err := l.svcCtx.Signals.RecentSignals(l.ctx, limit)
	if err != nil {
		l.Errorf("signals: recent limit=%d err=%v", limit, err)
		return nil, err
	}
	return &types.SignalsResponse{Signals: toSignalItems(rows)}, nil
}

func toSignalItems(rows []signal.Signal) []types.SignalItem {
	out := make([]types.SignalItem, 0, len(rows))
	for _, s := range rows {
		out = append(out, types.SignalItem{
			ID:            s.ID,
			Symbol:        s.Symbol,
			InstrumentKey: s.InstrumentKey,
			Rule:          string(s.Rule),
			Time:          s.EventTime.Format(time.RFC3339),
			SequenceIndex: s.SequenceIndex,
			MovePct:       s.MovePct,
			Detail:        s.Detail,
		})
	}
	return out
}

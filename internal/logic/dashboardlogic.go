package logic

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
)

const dashboardSignals = 20

type DashboardLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewDashboardLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DashboardLogic {
	return &DashboardLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Dashboard combines the recent signals with the poll driver state.
func (l *DashboardLogic) Dashboard() (*types.DashboardResponse, error) {
	rows, err := l.svcCtx.Signals.RecentSignals(l.ctx, dashboardSignals)
	if err != nil {
		l.Errorf("dashboard: recent signals err=%v", err)
		return nil, err
	}
	st := l.svcCtx.Status.Status()
	resp := &types.DashboardResponse{
		State:      string(st.State),
		TradeDate:  st.TradeDate,
		LastScanMs: st.LastScanMs,
		Signals:    toSignalItems(rows),
		LastBatch:  toSignalItems(st.Latest),
	}
	if !st.LastScanAt.IsZero() {
		resp.LastScanAt = st.LastScanAt.Format(time.RFC3339)
	}
	if l.svcCtx.Hub != nil {
		resp.Subscribers = l.svcCtx.Hub.Len()
	}
	return resp, nil
}

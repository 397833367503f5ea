package logic

import (
	"context"
	"time"

	"fno-scanner/internal/svc"
	"fno-scanner/internal/types"
)

type HealthLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewHealthLogic(ctx context.Context, svcCtx *svc.ServiceContext) *HealthLogic {
	return &HealthLogic{ctx: ctx, svcCtx: svcCtx}
}

func (l *HealthLogic) Health() *types.HealthResponse {
	resp := &types.HealthResponse{
		Status: "ok",
		Time:   time.Now().In(l.svcCtx.Window.Location).Format(time.RFC3339),
	}
	if l.svcCtx.Status != nil {
		st := l.svcCtx.Status.Status()
		resp.State = string(st.State)
		resp.TradeDate = st.TradeDate
	}
	if l.svcCtx.Hub != nil {
		resp.Subscribers = l.svcCtx.Hub.Len()
	}
	return resp
}

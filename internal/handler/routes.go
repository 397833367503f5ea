// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"fno-scanner/internal/svc"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(Routes(serverCtx))
}

// Routes lists every endpoint served by the scanner.
func Routes(serverCtx *svc.ServiceContext) []rest.Route {
	routes := []rest.Route{
		{Method: http.MethodGet, Path: "/health", Handler: healthHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/signals", Handler: signalsHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/signals/latest", Handler: latestSignalsHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/dashboard", Handler: dashboardHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/market/candles", Handler: candlesHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/market/live", Handler: liveBarHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/instruments/fno", Handler: fnoInstrumentsHandler(serverCtx)},
	}
	if serverCtx.WS != nil {
		routes = append(routes, rest.Route{Method: http.MethodGet, Path: "/ws", Handler: serverCtx.WS.ServeWS})
	}
	return routes
}

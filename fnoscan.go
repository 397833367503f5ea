package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"fno-scanner/internal/cli"
	"fno-scanner/internal/config"
	"fno-scanner/internal/handler"
	"fno-scanner/internal/svc"
	"fno-scanner/pkg/feed"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("f", "etc/fnoscan.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.NewServiceContext(*cfg)
	if err := svcCtx.Prepare(ctx); err != nil {
		logx.Errorf("startup: database not ready err=%v", err)
		logx.Close()
		os.Exit(1)
	}
	// Load today's recorded signals before any driver runs; polling may be off.
	svcCtx.Scanner.Rollover(ctx, time.Now())

	server := rest.MustNewServer(cfg.RestConf)
	handler.RegisterHandlers(server, svcCtx)

	// The builder outlives the ingest side so bars sealed while draining
	// still reach the final flush.
	builderCtx, stopBuilder := context.WithCancel(context.Background())
	var builderWG sync.WaitGroup
	builderWG.Add(1)
	go func() {
		defer builderWG.Done()
		svcCtx.Builder.Run(builderCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svcCtx.Pipeline.Run(ctx)
	}()
	if cfg.Scanner.PollEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svcCtx.Scanner.Run(ctx)
		}()
	}
	if svcCtx.Stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runFeed(ctx, svcCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		server.Stop()
	}()

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()

	<-ctx.Done()
	logx.Info("shutdown: signal received, stopping drivers")
	svcCtx.Hub.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		stopBuilder()
		builderWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		logx.Info("shutdown: all drivers stopped")
	case <-time.After(shutdownTimeout):
		logx.Error("shutdown: timeout exceeded, forcing exit")
	}
}

func runFeed(ctx context.Context, svcCtx *svc.ServiceContext) {
	keys, err := svcCtx.Universe.Keys(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("feed: resolve universe err=%v", err)
		return
	}
	err = svcCtx.Stream.Run(ctx, keys, func(t feed.Tick) {
		svcCtx.Pipeline.Submit(t)
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("feed: stopped err=%v", err)
	}
}

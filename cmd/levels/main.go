package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fno-scanner/internal/cli"
	"fno-scanner/internal/config"
	"fno-scanner/internal/svc"
	sig "fno-scanner/pkg/signal"
	"fno-scanner/pkg/universe"
)

var (
	configFile = flag.String("f", "etc/fnoscan.yaml", "the config file")
	dateFlag   = flag.String("date", "", "trading date YYYY-MM-DD (default: today in the exchange timezone)")
	workers    = flag.Int("workers", 4, "concurrent instruments")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[levels] Failed to load config: %v", err)
	}
	for _, line := range cli.ConfigSummaryLines(cfg) {
		log.Printf("  - %s", line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.NewServiceContext(*cfg)
	if err := svcCtx.Prepare(ctx); err != nil {
		log.Fatalf("[levels] Database not ready: %v", err)
	}

	day, err := parseDay(*dateFlag, time.Now(), svcCtx.Window.Location)
	if err != nil {
		log.Fatalf("[levels] Invalid -date: %v", err)
	}
	instruments, err := svcCtx.Universe.Instruments(ctx)
	if err != nil {
		log.Fatalf("[levels] Failed to resolve universe: %v", err)
	}
	log.Printf("[levels] Computing levels for %s over %d instruments", day.Format(time.DateOnly), len(instruments))

	start := time.Now()
	res := precompute(ctx, svcCtx.Levels, instruments, day, *workers)
	log.Printf("[levels] Done: ready=%d missing=%d failed=%d took=%dms",
		res.ready, res.missing, res.failed, time.Since(start).Milliseconds())
	if res.failed > 0 {
		os.Exit(1)
	}
}

type ensurer interface {
	Ensure(ctx context.Context, instrumentKey string, day time.Time) (*sig.Level, error)
}

type result struct {
	ready, missing, failed int64
}

func precompute(ctx context.Context, levels ensurer, instruments []universe.Instrument, day time.Time, workers int) result {
	if workers <= 0 {
		workers = 1
	}
	var ready, missing, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, inst := range instruments {
		if ctx.Err() != nil {
			break
		}
		inst := inst
		g.Go(func() error {
			lvl, err := levels.Ensure(ctx, inst.Key, day)
			switch {
			case err != nil:
				failed.Add(1)
				log.Printf("[levels.%s] [ERROR] %v", inst.Symbol, err)
			case lvl == nil:
				missing.Add(1)
				log.Printf("[levels.%s] [WARN] no prior session data", inst.Symbol)
			default:
				ready.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return result{ready: ready.Load(), missing: missing.Load(), failed: failed.Load()}
}

func parseDay(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	if raw == "" {
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

// Package ingest routes feed ticks through bar aggregation into the live
// signal driver.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"fno-scanner/pkg/candle"
	"fno-scanner/pkg/feed"
	"fno-scanner/pkg/signal"
)

const (
	defaultShards = 4
	defaultBuffer = 1024
)

// BarUpdater aggregates ticks into bars.
type BarUpdater interface {
	Update(instrumentKey string, price, volume float64, ts time.Time) (candle.Bar, bool)
}

// BarHandler consumes closed bars.
type BarHandler interface {
	Live(ctx context.Context, bar candle.Bar) (signal.Signal, bool, error)
}

// Pipeline fans ticks out to shard workers keyed by instrument, so ticks of
// one instrument are always applied in arrival order.
type Pipeline struct {
	builder BarUpdater
	handler BarHandler
	shards  []chan feed.Tick

	submitted atomic.Int64
	dropped   atomic.Int64
	closed    atomic.Int64
	signals   atomic.Int64
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	shards int
	buffer int
}

// WithShards sets the number of worker goroutines.
func WithShards(n int) Option {
	return func(o *pipelineOptions) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithBuffer sets the per-shard queue length.
func WithBuffer(n int) Option {
	return func(o *pipelineOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func New(builder BarUpdater, handler BarHandler, opts ...Option) *Pipeline {
	o := pipelineOptions{shards: defaultShards, buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	shards := make([]chan feed.Tick, o.shards)
	for i := range shards {
		shards[i] = make(chan feed.Tick, o.buffer)
	}
	return &Pipeline{builder: builder, handler: handler, shards: shards}
}

// Submit queues a tick without blocking. It returns false when the shard is
// full and the tick was dropped.
func (p *Pipeline) Submit(t feed.Tick) bool {
	shard := p.shards[p.shardFor(t.InstrumentKey)]
	select {
	case shard <- t:
		p.submitted.Add(1)
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Pipeline) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.shards)))
}

// Run processes queued ticks until ctx is cancelled, then drains what is
// already queued.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range p.shards {
		wg.Add(1)
		go func(in chan feed.Tick) {
			defer wg.Done()
			p.work(ctx, in)
		}(p.shards[i])
	}
	wg.Wait()
}

func (p *Pipeline) work(ctx context.Context, in chan feed.Tick) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case t := <-in:
					p.apply(context.Background(), t, false)
				default:
					return
				}
			}
		case t := <-in:
			p.apply(ctx, t, true)
		}
	}
}

func (p *Pipeline) apply(ctx context.Context, t feed.Tick, evaluate bool) {
	bar, closed := p.builder.Update(t.InstrumentKey, t.Price, t.Volume, t.Timestamp)
	if !closed {
		return
	}
	p.closed.Add(1)
	if !evaluate || p.handler == nil {
		return
	}
	if _, ok, err := p.handler.Live(ctx, bar); err != nil {
		logx.WithContext(ctx).Errorf("ingest: live evaluation key=%s bucket=%s err=%v",
			bar.InstrumentKey, bar.BucketStart.Format(time.RFC3339), err)
	} else if ok {
		p.signals.Add(1)
	}
}

// Stats reports pipeline counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Closed    int64 `json:"closed_bars"`
	Signals   int64 `json:"signals"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Closed:    p.closed.Load(),
		Signals:   p.signals.Load(),
	}
}

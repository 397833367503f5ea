package candle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultFlushInterval = time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// Builder aggregates ticks into bars. Ticks for one instrument are serialised
// on that instrument's slot; different instruments never share a lock.
type Builder struct {
	bucket        time.Duration
	sink          BarSink
	flushInterval time.Duration
	flushTimeout  time.Duration

	slots sync.Map // instrument key -> *slot

	queueMu sync.Mutex
	queue   []Bar

	closed  atomic.Int64
	stale   atomic.Int64
	flushed atomic.Int64
	dropped atomic.Int64
}

type slot struct {
	mu  sync.Mutex
	bar *Bar
}

// Stats reports builder counters.
type Stats struct {
	Closed  int64 // bars sealed by a later tick
	Stale   int64 // ticks dropped because their bucket precedes the live bar
	Flushed int64 // bars written by the sink
	Dropped int64 // bars lost to sink failures
	Pending int   // bars waiting in the flush queue
}

// Option configures a Builder.
type Option func(*Builder)

// WithSink sets the persistence target for closed bars.
func WithSink(sink BarSink) Option {
	return func(b *Builder) {
		b.sink = sink
	}
}

// WithFlushInterval overrides how often the flush queue is drained.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithFlushTimeout bounds a single batch write.
func WithFlushTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.flushTimeout = d
		}
	}
}

// NewBuilder constructs a Builder for the given bucket duration.
func NewBuilder(bucket time.Duration, opts ...Option) *Builder {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	b := &Builder{
		bucket:        bucket,
		flushInterval: defaultFlushInterval,
		flushTimeout:  defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bucket returns the configured bar duration.
func (b *Builder) Bucket() time.Duration { return b.bucket }

// Update folds a tick into the instrument's live bar. When the tick belongs
// to a later bucket the previous bar is sealed, queued for persistence and
// returned with true; the tick then opens the next live bar.
func (b *Builder) Update(instrumentKey string, price, volume float64, ts time.Time) (Bar, bool) {
	if volume < 0 {
		volume = 0
	}
	start := Floor(ts, b.bucket)
	s := b.slot(instrumentKey)

	s.mu.Lock()
	live := s.bar
	switch {
	case live == nil:
		s.bar = newBar(instrumentKey, start, price, volume)
		s.mu.Unlock()
		return Bar{}, false
	case live.BucketStart.Equal(start):
		live.apply(price, volume)
		s.mu.Unlock()
		return Bar{}, false
	case start.Before(live.BucketStart):
		s.mu.Unlock()
		b.stale.Add(1)
		return Bar{}, false
	}
	closed := *live
	s.bar = newBar(instrumentKey, start, price, volume)
	s.mu.Unlock()

	b.closed.Add(1)
	b.enqueue(closed)
	return closed, true
}

// Live returns a copy of the instrument's in-progress bar.
func (b *Builder) Live(instrumentKey string) (Bar, bool) {
	v, ok := b.slots.Load(instrumentKey)
	if !ok {
		return Bar{}, false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return Bar{}, false
	}
	return *s.bar, true
}

// Pending returns the number of closed bars awaiting a flush.
func (b *Builder) Pending() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}

// Stats returns a snapshot of the builder counters.
func (b *Builder) Stats() Stats {
	return Stats{
		Closed:  b.closed.Load(),
		Stale:   b.stale.Load(),
		Flushed: b.flushed.Load(),
		Dropped: b.dropped.Load(),
		Pending: b.Pending(),
	}
}

// Run drains the flush queue on the configured interval until ctx is
// cancelled, then performs a final drain.
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
			b.Flush(final)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush writes every queued bar in one batch. Returns the number written.
func (b *Builder) Flush(ctx context.Context) int {
	batch := b.drain()
	if len(batch) == 0 {
		return 0
	}
	if b.sink == nil {
		b.flushed.Add(int64(len(batch)))
		return len(batch)
	}
	writeCtx, cancel := context.WithTimeout(ctx, b.flushTimeout)
	defer cancel()
	start := time.Now()
	if err := b.sink.InsertBars(writeCtx, batch); err != nil {
		b.dropped.Add(int64(len(batch)))
		logx.WithContext(ctx).Errorf("candle: flush bars count=%d err=%v", len(batch), err)
		return 0
	}
	b.flushed.Add(int64(len(batch)))
	logx.WithContext(ctx).Debugf("candle: flushed bars count=%d took=%s", len(batch), time.Since(start))
	return len(batch)
}

func (b *Builder) slot(key string) *slot {
	if v, ok := b.slots.Load(key); ok {
		return v.(*slot)
	}
	v, _ := b.slots.LoadOrStore(key, &slot{})
	return v.(*slot)
}

func (b *Builder) enqueue(bar Bar) {
	b.queueMu.Lock()
	b.queue = append(b.queue, bar)
	b.queueMu.Unlock()
}

func (b *Builder) drain() []Bar {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	batch := b.queue
	b.queue = nil
	return batch
}

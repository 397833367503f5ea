package svc

import (
	"context"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "fno-scanner/internal/cache"
	"fno-scanner/internal/config"
	"fno-scanner/internal/ingest"
	"fno-scanner/internal/persistence/store"
	"fno-scanner/pkg/broadcast"
	"fno-scanner/pkg/candle"
	"fno-scanner/pkg/dedup"
	"fno-scanner/pkg/feed"
	"fno-scanner/pkg/levels"
	marketpkg "fno-scanner/pkg/market"
	_ "fno-scanner/pkg/market/exchanges/csvfile"
	_ "fno-scanner/pkg/market/exchanges/smartapi"
	"fno-scanner/pkg/scanner"
	"fno-scanner/pkg/session"
	"fno-scanner/pkg/signal"
	"fno-scanner/pkg/universe"
)

// SignalReader serves the recent signal feeds.
type SignalReader interface {
	RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error)
}

// BarReader serves persisted bars by symbol.
type BarReader interface {
	RecentBars(ctx context.Context, symbol, exchange string, limit int) ([]marketpkg.Candle, error)
}

// LiveBars exposes the in-progress bar of an instrument.
type LiveBars interface {
	Live(instrumentKey string) (candle.Bar, bool)
}

// InstrumentLister lists the scanned universe.
type InstrumentLister interface {
	Instruments(ctx context.Context) ([]universe.Instrument, error)
}

// StatusReporter reports the poll driver state.
type StatusReporter interface {
	Status() scanner.Status
}

type ServiceContext struct {
	Config config.Config
	Window session.Window

	DBConn sqlx.SqlConn
	Redis  *redis.Redis
	Cache  cache.Cache
	Store  *store.Store

	MarketConfig    *marketpkg.Config
	MarketProviders map[string]marketpkg.Provider
	DefaultMarket   marketpkg.Provider

	Universe *universe.Provider
	Levels   *levels.Provider
	Dedup    *dedup.Deduplicator
	Builder  *candle.Builder
	Hub      *broadcast.Hub
	WS       *broadcast.Server
	Scanner  *scanner.Scanner
	Pipeline *ingest.Pipeline
	// Stream is nil when the live feed is disabled.
	Stream *feed.Stream

	// Read-side views used by the HTTP handlers.
	Signals     SignalReader
	Bars        BarReader
	LiveBars    LiveBars
	Instruments InstrumentLister
	Status      StatusReporter
}

func NewServiceContext(c config.Config) *ServiceContext {
	window, err := c.Window()
	if err != nil {
		log.Fatalf("invalid trading window: %v", err)
	}
	svc := &ServiceContext{
		Config: c,
		Window: window,
	}

	if c.Market.Value == nil {
		log.Fatalf("market config is required (Market.File)")
	}
	providers, err := c.Market.Value.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build market providers: %v", err)
	}
	svc.MarketConfig = c.Market.Value
	svc.MarketProviders = providers
	if svc.DefaultMarket, err = c.Market.Value.Select(providers); err != nil {
		log.Fatalf("failed to select market provider: %v", err)
	}

	if c.Postgres.DSN == "" {
		log.Fatalf("postgres dsn is required")
	}
	svc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	if raw, err := svc.DBConn.RawDB(); err == nil {
		raw.SetMaxOpenConns(c.Postgres.MaxOpen)
		raw.SetMaxIdleConns(c.Postgres.MaxIdle)
	}

	ttl := cachekeys.NewTTLSet(c.TTL)
	var guard dedup.Guard
	if c.Redis.Host != "" {
		svc.Redis = redis.MustNewRedis(c.Redis)
		svc.Cache = cache.New(cache.ClusterConf{{RedisConf: c.Redis, Weight: 100}},
			syncx.NewSingleFlight(), cache.NewStat("fnoscan"), store.ErrNotFound)
		guard = dedup.NewRedisGuard(svc.Redis, func(k dedup.Key) string {
			return cachekeys.SignalGuardKey(k.InstrumentKey, string(k.Rule), k.TradeDate)
		}, cachekeys.SignalGuardTTL())
	}

	svc.Store = store.New(store.Config{
		SQLConn:  svc.DBConn,
		Cache:    svc.Cache,
		TTL:      ttl,
		Location: window.Location,
	})

	sc := c.Scanner
	svc.Universe = universe.NewProvider(svc.Store,
		universe.WithExchange(sc.Exchange),
		universe.WithMaxAge(sc.UniverseMaxAge),
	)
	svc.Levels = levels.New(svc.Store, svc.DefaultMarket, window,
		levels.WithLookback(sc.LookbackDays),
		levels.WithFetchTimeout(sc.FetchTimeout),
		levels.WithExchange(sc.Exchange),
	)
	dedupOpts := []dedup.Option{dedup.WithLocation(window.Location)}
	if guard != nil {
		dedupOpts = append(dedupOpts, dedup.WithGuard(guard))
	}
	svc.Dedup = dedup.New(svc.Store, dedupOpts...)
	svc.Builder = candle.NewBuilder(sc.Bucket,
		candle.WithSink(svc.Store),
		candle.WithFlushInterval(sc.FlushInterval),
	)
	svc.Hub = broadcast.NewHub()
	svc.WS = broadcast.NewServer(svc.Hub, broadcast.ServerOptions{
		SendBuffer:     c.Broadcast.SendBuffer,
		WriteTimeout:   c.Broadcast.WriteTimeout,
		AllowedOrigins: c.Broadcast.AllowedOrigins,
	})
	svc.Scanner = scanner.New(scanner.Config{
		Bucket:       sc.Bucket,
		PollInterval: sc.PollInterval,
		FetchTimeout: sc.FetchTimeout,
		Workers:      sc.Workers,
		Exchange:     sc.Exchange,
		Window:       window,
		Engine:       c.Engine(),
	}, scanner.Deps{
		Symbols:   svc.Universe,
		Levels:    svc.Levels,
		Dedup:     svc.Dedup,
		Store:     svc.Store,
		Broadcast: svc.Hub,
		Universe:  svc.Universe,
		Candles:   svc.DefaultMarket,
	})
	svc.Pipeline = ingest.New(svc.Builder, svc.Scanner,
		ingest.WithShards(c.Feed.Shards),
		ingest.WithBuffer(c.Feed.Buffer),
	)
	if c.Feed.Enabled {
		svc.Stream = feed.NewStream(feed.Config{
			URL:            c.Feed.URL,
			ClientCode:     c.Feed.ClientCode,
			FeedToken:      c.Feed.FeedToken,
			APIKey:         c.Feed.APIKey,
			Mode:           c.Feed.Mode,
			ExchangeType:   c.Feed.ExchangeType,
			MaxTokens:      c.Feed.MaxTokens,
			ReconnectDelay: c.Feed.ReconnectDelay,
			Location:       window.Location,
		})
	}

	svc.Signals = svc.Store
	svc.Bars = svc.Store
	svc.LiveBars = svc.Builder
	svc.Instruments = svc.Universe
	svc.Status = svc.Scanner
	return svc
}

// Prepare verifies the database and applies the schema when configured.
func (s *ServiceContext) Prepare(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Store.Ping(pingCtx); err != nil {
		return err
	}
	if !s.Config.Postgres.Migrate {
		return nil
	}
	return s.Store.Migrate(ctx)
}

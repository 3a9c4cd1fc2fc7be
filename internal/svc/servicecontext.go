package svc

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	"candlesync/internal/config"
	"candlesync/internal/store"
	syncpkg "candlesync/internal/sync"
	"candlesync/pkg/journal"
	marketpkg "candlesync/pkg/market"
	_ "candlesync/pkg/market/providers/yahoo" // register yahoo provider
)

// ServiceContext wires configuration into the concrete collaborators the
// entrypoints share: the connection pool, the candle store, the provider set,
// and the sync engine.
type ServiceContext struct {
	Config config.Config

	Clock     *marketpkg.Clock
	Providers map[string]marketpkg.Provider
	Provider  marketpkg.Provider

	DBConn sqlx.SqlConn
	Store  *store.Store
	Engine *syncpkg.Engine
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	clock, err := c.BuildClock()
	if err != nil {
		log.Fatalf("failed to build market clock: %v", err)
	}
	svc.Clock = clock

	providerCfg := c.Provider.Value
	if providerCfg == nil {
		providerCfg = config.MustLoadProvider()
	}
	providers, err := providerCfg.BuildProviders(clock)
	if err != nil {
		log.Fatalf("failed to build candle providers: %v", err)
	}
	svc.Providers = providers
	if providerCfg.Default != "" {
		svc.Provider = providers[providerCfg.Default]
	}
	if svc.Provider == nil {
		log.Fatalf("no default candle provider configured")
	}

	if c.Postgres.DSN == "" {
		log.Fatalf("postgres DSN is required")
	}
	conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	svc.DBConn = conn

	storeOpts := []store.Option{}
	if c.Redis.Host != "" {
		redisCache := cache.New(
			cache.CacheConf{{RedisConf: c.Redis, Weight: 100}},
			syncx.NewSingleFlight(),
			cache.NewStat("candlesync"),
			sql.ErrNoRows,
		)
		storeOpts = append(storeOpts, store.WithCache(redisCache, time.Duration(c.TTL.RecentRows)*time.Second))
	}
	svc.Store = store.New(conn, storeOpts...)

	svc.Engine = svc.NewEngine()

	return svc
}

// NewEngine builds a sync engine over the shared store and provider. Extra
// options layer on top of the configured defaults; the interactive entrypoint
// uses this to attach a display writer.
func (s *ServiceContext) NewEngine(extra ...syncpkg.EngineOption) *syncpkg.Engine {
	opts := []syncpkg.EngineOption{
		syncpkg.WithSymbolDelay(time.Duration(s.Config.Sync.SymbolDelayMillis) * time.Millisecond),
	}
	if s.Config.Sync.JournalDir != "" {
		opts = append(opts, syncpkg.WithJournal(journal.NewWriter(s.Config.Sync.JournalDir)))
	}
	opts = append(opts, extra...)
	return syncpkg.NewEngine(s.Store, s.Provider, s.Clock, opts...)
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/gpahub/internal/cache"
	"github.com/starford/gpahub/internal/inbox"
	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/metrics"
	"github.com/starford/gpahub/internal/resolver"
	"github.com/starford/gpahub/internal/resultservice"
	"github.com/starford/gpahub/internal/sse"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/store/postgres"
	"github.com/starford/gpahub/internal/store/sqlite"
	"github.com/starford/gpahub/internal/webapi"
)

// Runtime holds every long-lived component built from a Config.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Service *resultservice.Service
	Broker  *sse.Broker
	Cache   cache.ResultCache
	// Inbox is nil unless ingest.inbox_dir is set.
	Inbox *inbox.Inbox

	stores []store.Store
}

// Build opens the configured stores and wires the resolver, cache, ingest
// pipeline and service. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New()
	}

	entries := make([]resultservice.StoreEntry, 0, len(cfg.Stores))
	sources := make([]resolver.Source, 0, len(cfg.Stores))
	connectors := map[string]store.Connector{}
	for _, sc := range cfg.Stores {
		st, connect, err := openStore(ctx, sc)
		if err != nil {
			return rt, fmt.Errorf("store %q: %w", sc.Name, err)
		}
		rt.stores = append(rt.stores, st)
		connectors[sc.Name] = connect
		entries = append(entries, resultservice.StoreEntry{Store: st, Description: sc.Description})
		sources = append(sources, resolver.Source{Name: sc.Name, Reader: st, Timeout: sc.Timeout})
		logger.Info("Store opened", slog.String("store", sc.Name), slog.String("driver", sc.Driver))
	}

	apis := make([]webapi.Descriptor, len(cfg.WebAPIs))
	for i := range cfg.WebAPIs {
		apis[i] = cfg.WebAPIs[i].Descriptor()
	}
	plan, err := resolver.NewPlan(sources, cfg.SearchOrder, apis)
	if err != nil {
		return rt, err
	}
	res := resolver.New(plan, webapi.NewClient(&http.Client{}, logger),
		resolver.WithLogger(logger),
		resolver.WithMetrics(rt.Metrics),
	)

	rt.Cache = openCache(ctx, cfg.Cache, logger)

	target := rt.stores[0]
	if cfg.Ingest.Target != "" {
		for _, st := range rt.stores {
			if st.Name() == cfg.Ingest.Target {
				target = st
			}
		}
	}
	pipeline := ingest.New(target, cfg.Ingest.Pipeline(),
		ingest.WithLogger(logger),
		ingest.WithMetrics(rt.Metrics),
		ingest.WithConnector(connectors[target.Name()]),
	)

	rt.Broker = sse.NewBroker(2 * time.Second)
	rt.Service = resultservice.New(resultservice.Deps{
		Pipeline:       pipeline,
		Resolver:       res,
		Cache:          rt.Cache,
		Stores:         entries,
		Events:         rt.Broker,
		Logger:         logger,
		Metrics:        rt.Metrics,
		DefaultProgram: cfg.App.DefaultProgram,
	})

	if cfg.Ingest.InboxDir != "" {
		fsys, err := inbox.NewFS(cfg.Ingest.InboxDir)
		if err != nil {
			return rt, err
		}
		rt.Inbox, err = inbox.New(fsys, rt.Service,
			inbox.WithArchiveDir(cfg.Ingest.ArchiveDir),
			inbox.WithDebounce(cfg.Ingest.Debounce),
			inbox.WithLogger(logger),
		)
		if err != nil {
			return rt, err
		}
	}

	return rt, nil
}

// Close releases the broker, cache and every opened store.
func (rt *Runtime) Close() {
	if rt.Broker != nil {
		rt.Broker.Close()
	}
	if rt.Cache != nil {
		_ = rt.Cache.Close()
	}
	for _, st := range rt.stores {
		if err := st.Close(); err != nil {
			rt.Logger.Warn("Store close failed", slog.String("store", st.Name()), slog.String("error", err.Error()))
		}
	}
}

func openStore(ctx context.Context, sc StoreConfig) (store.Store, store.Connector, error) {
	switch sc.Driver {
	case store.DriverMemory:
		m := store.NewMemory(sc.Name)
		return m, store.MemoryConnector(m), nil
	case store.DriverSQLite:
		db, err := sqlite.Open(sc.Name, sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, sqlite.Connector(sc.Name, sc.Path), nil
	case store.DriverPostgres:
		pc := postgres.Config{DSN: sc.DSN, MaxConns: sc.MaxConns}
		db, err := postgres.Open(ctx, sc.Name, pc)
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.Connector(sc.Name, pc), nil
	default:
		return nil, nil, errors.New("unknown driver " + sc.Driver)
	}
}

// openCache returns the local cache when Redis cannot be reached.
func openCache(ctx context.Context, cc CacheConfig, logger *slog.Logger) cache.ResultCache {
	switch cc.Driver {
	case cache.DriverLocal:
		return cache.NewLocal(cc.TTL, cc.TTL)
	case cache.DriverRedis:
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cc.Addr,
			Password: cc.Password,
			DB:       cc.DB,
			TTL:      cc.TTL,
		}, logger)
		if err != nil {
			logger.Warn("Redis cache unavailable, using local cache", slog.String("error", err.Error()))
			return cache.NewLocal(cc.TTL, cc.TTL)
		}
		return rc
	default:
		return cache.Nop{}
	}
}

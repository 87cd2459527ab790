package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/artifact"
	"github.com/sells-group/crop-advisor/internal/db"
	"github.com/sells-group/crop-advisor/internal/fetcher"
	"github.com/sells-group/crop-advisor/internal/recommend"
	"github.com/sells-group/crop-advisor/internal/respcache"
	"github.com/sells-group/crop-advisor/internal/source"
	"github.com/sells-group/crop-advisor/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "crop-advisor.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore initializes and migrates the run store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// openSource connects to the upstream yield/price database.
func openSource(ctx context.Context) (*source.Postgres, func(), error) {
	if cfg.Source.DatabaseURL == "" {
		return nil, nil, eris.New("source database url is required (CROPADVISOR_SOURCE_DATABASE_URL) unless --input is given")
	}
	pool, err := db.Connect(ctx, cfg.Source.DatabaseURL, db.PoolConfig{})
	if err != nil {
		return nil, nil, eris.Wrap(err, "connect source database")
	}
	return source.NewPostgres(pool, cfg.Source.RetryAttempts), pool.Close, nil
}

// exportFetcher downloads remote --input exports.
var exportFetcher = fetcher.New()

// fileSource reads an exported CSV/XLSX into an in-memory source. input may
// be a local path or an http(s)/ftp URL.
func fileSource(ctx context.Context, input string) (*source.Memory, error) {
	path := input
	if fetcher.IsRemote(input) {
		dir, err := os.MkdirTemp("", "crop-advisor-input-")
		if err != nil {
			return nil, eris.Wrap(err, "create download dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		path, err = exportFetcher.Fetch(ctx, input, dir)
		if err != nil {
			return nil, err
		}
	}
	batch, err := source.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return source.NewMemory(batch), nil
}

func initResponseCache(ctx context.Context) (respcache.Cache, error) {
	if cfg.Cache.RedisURL == "" {
		return respcache.Noop{}, nil
	}
	return respcache.NewRedis(ctx, cfg.Cache.RedisURL, time.Duration(cfg.Cache.TTLSecs)*time.Second)
}

// initRecommender wires the model cache, context source, and response cache.
// input selects a file export over the source database when set.
func initRecommender(ctx context.Context, input string) (*recommend.Service, func(), error) {
	var (
		src     source.ContextSource
		closeDB = func() {}
	)
	if input != "" {
		mem, err := fileSource(ctx, input)
		if err != nil {
			return nil, nil, err
		}
		src = mem
	} else {
		pg, closer, err := openSource(ctx)
		if err != nil {
			return nil, nil, err
		}
		src, closeDB = pg, closer
	}

	cache, err := initResponseCache(ctx)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	models := artifact.NewCache(artifact.DirLoader{Dir: cfg.Serving.ModelDir})
	svc := recommend.New(models, src, recommend.WithResponseCache(cache))
	cleanup := func() {
		cache.Close() //nolint:errcheck
		closeDB()
	}
	return svc, cleanup, nil
}

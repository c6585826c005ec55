package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/vitalwatch/internal/cfg"
	"github.com/linnemanlabs/vitalwatch/internal/postgres"
	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/registry/memstore"
	"github.com/linnemanlabs/vitalwatch/internal/registry/pgstore"
	"github.com/linnemanlabs/vitalwatch/internal/registry/redisstore"
)

// openRegistry selects the subject store from config. The returned close
// function releases the backing connection and is never nil.
func openRegistry(ctx context.Context, appCfg *vc.Config, L log.Logger) (registry.Store, func(), error) {
	switch {
	case appCfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		store, err := pgstore.New(postgres.WithOrigin(ctx, "startup"), pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres subject registry")
		return store, pool.Close, nil

	case appCfg.RedisAddr != "":
		rdb, err := redisstore.Dial(ctx, appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		L.Info(ctx, "using redis subject registry", "redis_addr", appCfg.RedisAddr, "redis_db", appCfg.RedisDB)
		return redisstore.New(rdb, ""), func() { _ = rdb.Close() }, nil

	default:
		L.Info(ctx, "using in-memory subject registry (no database-url or redis-addr configured)")
		return memstore.New(), func() {}, nil
	}
}

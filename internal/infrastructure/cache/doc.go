// Package cache provides the optional Redis connection used to cache
// per-plant Q-tables in front of SQLite.
//
// # Usage
//
//	client, err := cache.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	store := optimizer.NewCachedQTableStore(sqliteStore, client.Redis(), cfg.Redis.TTL, logger)
//
// A disabled configuration returns ErrDisabled; callers then use the
// SQLite store directly.
package cache

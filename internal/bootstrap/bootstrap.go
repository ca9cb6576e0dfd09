// Package bootstrap builds the adapters shared by the server and the CLI
// from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/branchpanel/internal/adapter/driven/bitbucket"
	"github.com/ericfisherdev/branchpanel/internal/adapter/driven/bolt"
	"github.com/ericfisherdev/branchpanel/internal/adapter/driven/memory"
	sqliteadapter "github.com/ericfisherdev/branchpanel/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/config"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// OpenStore opens the cache store selected by cfg.CacheBackend. The returned
// close function releases the store and is never nil.
func OpenStore(ctx context.Context, cfg *config.Config) (driven.KVStore, func() error, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory:
		return memory.NewStore(), func() error { return nil }, nil

	case config.BackendBolt:
		store, err := bolt.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendSQLite, "":
		db, err := sqliteadapter.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return sqliteadapter.NewKVRepo(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// OpenStoreOrMemory opens the configured store and falls back to an in-memory
// store when it cannot be opened. The cache only saves API calls, so a broken
// store degrades performance but not correctness.
func OpenStoreOrMemory(ctx context.Context, cfg *config.Config) (driven.KVStore, func() error) {
	store, closeFn, err := OpenStore(ctx, cfg)
	if err != nil {
		slog.Warn("cache store unavailable, using in-memory cache",
			"backend", cfg.CacheBackend,
			"path", cfg.DBPath,
			"error", err,
		)
		return memory.NewStore(), func() error { return nil }
	}

	slog.Info("cache store opened", "backend", cfg.CacheBackend, "path", cfg.DBPath)
	return store, closeFn
}

// NewClient creates the Bitbucket client described by cfg.
func NewClient(cfg *config.Config) (*bitbucket.Client, error) {
	client, err := bitbucket.NewClient(cfg.APIBaseURL, cfg.Workspace, cfg.AccessToken, cfg.HTTPCache)
	if err != nil {
		return nil, err
	}
	return client.WithConcurrency(cfg.FetchConcurrency), nil
}

// Services bundles the application services built on one client and store.
type Services struct {
	Client    *bitbucket.Client
	Cache     *application.Cache
	Branches  *application.BranchService
	Staleness *application.StalenessEvaluator
}

// NewServices wires the client, the cache over store, the branch loader and
// the staleness evaluator. With cfg.StaleRemote set, staleness queries the
// latest commit of each branch instead of trusting the fetched snapshot.
func NewServices(cfg *config.Config, store driven.KVStore) (*Services, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	cache := application.NewCache(store, cfg.CacheTTL)

	var dater driven.CommitDater = application.TargetCommitDater{}
	if cfg.StaleRemote {
		dater = client
	}

	return &Services{
		Client:    client,
		Cache:     cache,
		Branches:  application.NewBranchService(client, cache, cfg.Workspace, cfg.FetchConcurrency),
		Staleness: application.NewStalenessEvaluator(dater),
	}, nil
}

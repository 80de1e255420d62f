package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/linkstash/linkstash/internal/auth"
	"github.com/linkstash/linkstash/internal/config"
	"github.com/linkstash/linkstash/internal/data"
	"github.com/linkstash/linkstash/internal/logging"
	"github.com/linkstash/linkstash/internal/remote"
	"github.com/linkstash/linkstash/internal/storage"
	syncer "github.com/linkstash/linkstash/internal/sync"
)

// app bundles the wired-up services every command needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *storage.Store
	data    *data.Service
	remote  remote.Client
	session *auth.MemorySession
	engine  *syncer.Engine
}

// newApp loads configuration and brings up storage and the data
// layer. The sync engine is only constructed when a remote endpoint
// is configured.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store := storage.New(storage.Options{
		Dir:           cfg.Storage.Dir,
		StepTimeout:   cfg.Storage.InitTimeout,
		DisableSQLite: cfg.Storage.DisableSQLite,
		Logger:        log,
	})
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		data:    data.New(store, log),
		session: auth.NewMemorySession(cfg.Remote.UserID),
	}

	if cfg.Remote.URL != "" {
		token := cfg.Remote.Token
		a.remote = remote.NewHTTPClient(cfg.Remote.URL, cfg.Remote.APIKey,
			func(ctx context.Context) (string, error) { return token, nil }, nil)
		a.engine = syncer.New(store, a.remote, a.session, syncer.Config{
			Schedule:     cfg.Sync.Schedule,
			Cooldown:     cfg.Sync.Cooldown,
			PingInterval: cfg.Sync.PingInterval,
			Logger:       log,
		})
	}

	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}

// requireEngine fails commands that need cloud sync when no remote
// endpoint is configured.
func (a *app) requireEngine() (*syncer.Engine, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("no remote endpoint configured (set remote.url)")
	}
	return a.engine, nil
}

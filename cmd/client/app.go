package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/certgen"
	"github.com/atinyakov/gophvault/internal/client/breach"
	"github.com/atinyakov/gophvault/internal/client/kv"
	"github.com/atinyakov/gophvault/internal/client/reconcile"
	"github.com/atinyakov/gophvault/internal/client/remote"
	"github.com/atinyakov/gophvault/internal/client/storage"
	"github.com/atinyakov/gophvault/internal/client/vault"
	"github.com/atinyakov/gophvault/internal/config"
	"github.com/atinyakov/gophvault/internal/logger"
	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/session"
)

// app is the wired client: one signed-in session over one local store.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	kv      kv.Store
	manager *session.Manager
	engine  *reconcile.Engine
	vault   *vault.Vault
	metrics *metrics.Metrics
	msrv    *metrics.Server
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	l := logger.New()
	if err := l.InitConsole(cfg.Log.Level); err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, l.Log, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
	if cfg.Backend == "file" {
		return kv.NewFile(cfg.Path), nil
	}
	db, err := kv.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openApp signs in as the identity of the client certificate and wires the
// vault over the configured backend.
func openApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	certFile := filepath.Join(cfg.Client.CertDir, remote.ClientCertFile)
	keyFile := filepath.Join(cfg.Client.CertDir, remote.ClientKeyFile)
	caFile := filepath.Join(cfg.Client.CertDir, certgen.CACertFile)

	identity, err := remote.IdentityFromCertificate(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'gophvault register' first)", err)
	}
	manager := session.NewManager()
	sess, err := manager.SignIn(identity)
	if err != nil {
		return nil, err
	}

	hc, err := remote.LoadClientCertificate(certFile, keyFile, caFile, cfg.Client.Timeout)
	if err != nil {
		return nil, err
	}

	kvs, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	store := storage.New(kvs, sess)
	engine := reconcile.New(store, remote.New(cfg.Client.ServerURL, hc, log), sess,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(m),
	)

	scanner := breach.NewScanner(breach.NewClient(cfg.Breach.Endpoint, cfg.Breach.Timeout), cfg.Breach.MinInterval,
		breach.WithScannerLogger(log),
		breach.WithScannerMetrics(m),
	)
	breaches := breach.NewService(kvs, sess, store, scanner,
		breach.WithTTL(cfg.Breach.TTL),
		breach.WithLogger(log),
	)

	a := &app{
		cfg:     cfg,
		log:     log,
		kv:      kvs,
		manager: manager,
		engine:  engine,
		metrics: m,
		vault: vault.New(store,
			vault.WithSyncer(engine),
			vault.WithBreachChecker(breaches),
			vault.WithLogger(log),
		),
	}

	if cfg.Metrics.Addr != "" {
		a.msrv = metrics.NewServer(cfg.Metrics.Addr, m, log)
		if err := a.msrv.Start(); err != nil {
			log.Warn("metrics endpoint disabled", zap.Error(err))
			a.msrv = nil
		}
	}

	log.Debug("signed in", zap.String("identity", identity), zap.String("backend", cfg.Storage.Backend))
	return a, nil
}

// scheduler returns the background reconcile loop, or nil when disabled.
func (a *app) scheduler() *reconcile.Scheduler {
	if a.cfg.Sync.Interval <= 0 {
		return nil
	}
	return reconcile.NewScheduler(a.engine, a.cfg.Sync.Interval, a.cfg.Sync.Timeout, a.log)
}

// Close signs out, waits for background passes and releases the store.
func (a *app) Close() {
	a.manager.SignOut()
	a.vault.Wait()
	if a.msrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.msrv.Stop(ctx)
	}
	if err := a.kv.Close(); err != nil {
		a.log.Warn("failed to close local store", zap.Error(err))
	}
	_ = a.log.Sync()
}

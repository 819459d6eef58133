package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cragmate/partner-engine/internal/config"
	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/matching"
	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/overlap"
	"github.com/cragmate/partner-engine/internal/store"
	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/store/postgres"
	"github.com/cragmate/partner-engine/internal/store/seed"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// engine holds the components every command builds from the same config.
type engine struct {
	cfg      config.Config
	log      *logger.Logger
	store    store.Store
	db       *sql.DB // nil for the memory store
	resolver *visibility.Resolver
	detector *overlap.Detector
	manager  *overlap.Manager
	matcher  *matching.Service
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	e := &engine{cfg: cfg, log: log}
	if err := e.openStore(ctx); err != nil {
		log.Sync()
		return nil, err
	}

	e.resolver = visibility.NewResolver(e.store)
	e.detector = overlap.NewDetector(e.store, e.resolver, cfg.Overlap.Weights, cfg.Overlap.Concurrency, log)
	e.manager = overlap.NewManager(e.store, e.resolver, log).
		WithRetention(cfg.Overlap.Retention).
		WithCrossPathRadius(cfg.Overlap.CrossPathKm)
	e.matcher = matching.NewService(e.store, e.resolver, cfg.Matching.Weights, log)
	return e, nil
}

func (e *engine) openStore(ctx context.Context) error {
	switch e.cfg.Store.Driver {
	case "memory":
		st := memstore.New()
		if seedPath != "" {
			if err := applyFixture(ctx, seedPath, seed.Memory(st)); err != nil {
				return err
			}
			e.log.Info("memory store seeded", "fixture", seedPath)
		}
		e.store = st
		return nil
	case "postgres":
		db, err := postgres.Open(ctx, e.cfg.Store.DatabaseURL, e.cfg.Store.MaxOpenConn)
		if err != nil {
			return err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return err
		}
		if seedPath != "" {
			e.log.Warn("--seed is ignored for the postgres store, use the seed command", "fixture", seedPath)
		}
		e.db = db
		e.store = postgres.NewStore(db)
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", e.cfg.Store.Driver)
	}
}

func (e *engine) Close() {
	if e.db != nil {
		e.db.Close()
	}
	e.log.Sync()
}

func connectNATS(cfg config.Config, log *logger.Logger, name string) (*messaging.NATSClient, error) {
	nc := messaging.DefaultNATSConfig()
	nc.URL = cfg.NATS.URL
	nc.Name = name
	return messaging.NewNATSClient(nc, log)
}

func applyFixture(ctx context.Context, path string, w seed.Writer) error {
	f, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	return f.Apply(ctx, w)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

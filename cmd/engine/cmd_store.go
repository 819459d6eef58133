package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/store/postgres"
	"github.com/cragmate/partner-engine/internal/store/seed"
)

func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver != "postgres" {
		return nil, fmt.Errorf("schema commands need the postgres store, got %q", cfg.Store.Driver)
	}
	return postgres.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxOpenConn)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	return printVersion(db)
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.MigrateDown(db); err != nil {
		return err
	}
	return printVersion(db)
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	return printVersion(db)
}

func printVersion(db *sql.DB) error {
	version, dirty, err := postgres.SchemaVersion(db)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

// runSeed loads a fixture into Postgres. With the memory store it only
// validates the fixture.
func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if cfg.Store.Driver == "memory" {
		if err := applyFixture(ctx, args[0], seed.Memory(memstore.New())); err != nil {
			return err
		}
		fmt.Println("fixture is valid")
		return nil
	}

	db, err := postgres.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxOpenConn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	if err := applyFixture(ctx, args[0], postgres.NewStore(db)); err != nil {
		return err
	}
	fmt.Printf("seeded %s\n", args[0])
	return nil
}

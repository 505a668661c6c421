// Package database selects the account storage backend and builds the
// in-memory descriptor index used to audit enrolled faces.
package database

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/database/mariadb"
	"github.com/kozaktomas/facegate/internal/database/postgres"
)

// Supported DATABASE_DRIVER values.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMariaDB  = "mariadb"
)

// Counter reports how many accounts exist and how many are enrolled.
type Counter interface {
	Count(ctx context.Context) (total, enrolled int, err error)
}

// Repository is the full account storage contract every backend implements.
type Repository interface {
	credential.Store
	credential.Lister
	Counter
}

type migrator interface {
	MigrationsApplied(ctx context.Context) ([]string, error)
	Close() error
}

// Backend is an opened account repository and the pool behind it.
type Backend struct {
	Driver     string
	Repository Repository

	pool migrator
}

// Open connects the configured driver and applies its migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Backend, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return &Backend{Driver: DriverMemory, Repository: credential.NewMemoryStore()}, nil

	case DriverPostgres, "postgresql":
		pool, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:     DriverPostgres,
			Repository: postgres.NewAccountRepository(pool),
			pool:       pool,
		}, nil

	case DriverMariaDB, "mysql":
		pool, err := mariadb.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:     DriverMariaDB,
			Repository: mariadb.NewAccountRepository(pool),
			pool:       pool,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Migrations returns the applied migration versions. The memory driver has none.
func (b *Backend) Migrations(ctx context.Context) ([]string, error) {
	if b.pool == nil {
		return nil, nil
	}
	return b.pool.MigrationsApplied(ctx)
}

// Close releases the connection pool, if any.
func (b *Backend) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Close()
}

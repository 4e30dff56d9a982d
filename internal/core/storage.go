package core

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/postgres"
	"kittycore/internal/infra/persistence/sqlite"
	"kittycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterizes the persistent store.
type StorageConfig struct {
	Driver      StorageDriver `env:"KITTYCORE_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath  string        `env:"KITTYCORE_SQLITE_PATH"    envDefault:"kittycore.db"`
	PostgresDSN string        `env:"KITTYCORE_POSTGRES_DSN"`
}

// LoadStorageConfig reads StorageConfig from the environment.
func LoadStorageConfig() (StorageConfig, error) {
	var cfg StorageConfig
	if err := env.Parse(&cfg); err != nil {
		return StorageConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// OpenPersistentStore opens the store named by cfg.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	switch cfg.Driver {
	case StorageMemory, "":
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenPersistentStoreFromEnv combines LoadStorageConfig and OpenPersistentStore.
//
//	KITTYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	KITTYCORE_SQLITE_PATH: path to sqlite file (default ./kittycore.db)
//	KITTYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStoreFromEnv(ctx context.Context, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	cfg, err := LoadStorageConfig()
	if err != nil {
		return nil, err
	}
	return OpenPersistentStore(ctx, cfg, engine)
}

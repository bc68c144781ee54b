// Package dial opens a Bursar store by driver name, for callers that pick the
// backend from configuration.
package dial

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/postgres"
	"github.com/xraph/bursar/store/sqlite"
)

// Driver names.
const (
	Memory   = "memory"
	SQLite   = "sqlite"
	Postgres = "postgres"
	Mongo    = "mongo"
)

// DefaultMongoDatabase is used when Config.Database is empty.
const DefaultMongoDatabase = "bursar"

// Config selects and locates a backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres or mongo. Empty means memory.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`
	// DSN is the sqlite file path, the postgres connection string or the
	// mongo URI.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`
	// Database names the mongo database.
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// Open connects to the configured backend. The store is not migrated.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver != "" && cfg.Driver != Memory && cfg.DSN == "" {
		return nil, fmt.Errorf("bursar/dial: driver %q needs a dsn", cfg.Driver)
	}

	switch cfg.Driver {
	case "", Memory:
		return memory.New(), nil
	case SQLite:
		return sqlite.Open(cfg.DSN, sqlite.WithLogger(logger))
	case Postgres:
		return postgres.Open(ctx, cfg.DSN, postgres.WithLogger(logger))
	case Mongo:
		name := cfg.Database
		if name == "" {
			name = DefaultMongoDatabase
		}
		return mongo.Open(cfg.DSN, name, mongo.WithLogger(logger))
	default:
		return nil, fmt.Errorf("bursar/dial: unknown driver %q", cfg.Driver)
	}
}

package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/config"
	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/metastore/postgres"
	"github.com/evermem/evermem/internal/metastore/sqlite"
)

// NewMetaStore returns a metadata store based on config. Opening is
// synchronous: health checks and the maintenance loops need a live handle
// immediately, and both backends bootstrap their schema on open.
func NewMetaStore(cfg *config.Config, log zerolog.Logger) (metastore.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.SQLitePath).Msg("sqlite metadata store opened")
		return st, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("MEMORY_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		st, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Debug().Msg("postgres metadata store opened")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}

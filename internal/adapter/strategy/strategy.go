package strategy

import (
	"fmt"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

// New maps a database configuration to its backup strategy. The set of
// kinds is closed; adding one means a new file here, not an orchestrator
// change.
func New(cfg config.DatabaseConfig, runtime domain.ContainerRuntime) (domain.Strategy, error) {
	switch cfg.Type {
	case config.KindMariaDB, config.KindMySQL:
		return NewMySQLDump(cfg, runtime), nil
	case config.KindPostgres:
		return NewPostgresDump(cfg, runtime), nil
	case config.KindSQLite:
		return NewFileExtract(cfg, runtime), nil
	case config.KindValkey, config.KindRedis:
		return NewSnapshot(cfg, runtime), nil
	default:
		return nil, fmt.Errorf("no backup strategy for database type %q", cfg.Type)
	}
}

package strategy

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

// Custom archive format restores flexibly with pg_restore.
const defaultPostgresDumpArgs = "-Fc"

// PostgresDump streams a pg_dump archive from a PostgreSQL container.
type PostgresDump struct {
	cfg     config.DatabaseConfig
	runtime domain.ContainerRuntime
}

func NewPostgresDump(cfg config.DatabaseConfig, runtime domain.ContainerRuntime) *PostgresDump {
	return &PostgresDump{cfg: cfg, runtime: runtime}
}

func (s *PostgresDump) Ext() string {
	return "dump"
}

func (s *PostgresDump) Produce(ctx context.Context) (io.ReadCloser, domain.ExitCheck, error) {
	dumpArgs := s.cfg.DumpArgs
	if dumpArgs == "" {
		dumpArgs = defaultPostgresDumpArgs
	}

	cmd := append([]string{"pg_dump"}, strings.Fields(dumpArgs)...)
	cmd = append(cmd, "-U", s.cfg.User, "-d", s.cfg.Database)
	env := []string{fmt.Sprintf("PGPASSWORD=%s", s.cfg.Password)}

	return s.runtime.ExecStream(ctx, s.cfg.Container, cmd, env)
}

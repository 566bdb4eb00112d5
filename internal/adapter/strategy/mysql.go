package strategy

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

// --single-transaction keeps the dump consistent without locking tables;
// --skip-dump-date keeps identical data producing identical dumps.
const defaultMySQLDumpArgs = "--single-transaction --skip-dump-date"

// MySQLDump streams a logical dump from a MariaDB or MySQL container via
// the in-container mysqldump tool.
type MySQLDump struct {
	cfg     config.DatabaseConfig
	runtime domain.ContainerRuntime
}

func NewMySQLDump(cfg config.DatabaseConfig, runtime domain.ContainerRuntime) *MySQLDump {
	return &MySQLDump{cfg: cfg, runtime: runtime}
}

func (s *MySQLDump) Ext() string {
	return "sql"
}

func (s *MySQLDump) Produce(ctx context.Context) (io.ReadCloser, domain.ExitCheck, error) {
	dumpArgs := s.cfg.DumpArgs
	if dumpArgs == "" {
		dumpArgs = defaultMySQLDumpArgs
	}

	cmd := append([]string{"mysqldump"}, strings.Fields(dumpArgs)...)
	cmd = append(cmd, "-u", s.cfg.User, s.cfg.Database)
	env := []string{fmt.Sprintf("MYSQL_PWD=%s", s.cfg.Password)}

	return s.runtime.ExecStream(ctx, s.cfg.Container, cmd, env)
}

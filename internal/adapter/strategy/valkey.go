package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

const (
	defaultSavePollInterval = 500 * time.Millisecond
	defaultSaveTimeout      = 30 * time.Second
)

// ErrSaveTimeout means the server never confirmed the triggered snapshot
// within the poll window.
var ErrSaveTimeout = errors.New("snapshot save timed out")

// Snapshot backs up a Valkey/Redis container with an explicit two-phase
// protocol: trigger a background save, poll LASTSAVE until it advances
// past the trigger, then extract the resulting dump file.
type Snapshot struct {
	cfg     config.DatabaseConfig
	runtime domain.ContainerRuntime

	pollInterval time.Duration
	saveTimeout  time.Duration
}

func NewSnapshot(cfg config.DatabaseConfig, runtime domain.ContainerRuntime) *Snapshot {
	return &Snapshot{
		cfg:          cfg,
		runtime:      runtime,
		pollInterval: defaultSavePollInterval,
		saveTimeout:  defaultSaveTimeout,
	}
}

func (s *Snapshot) Ext() string {
	return "rdb"
}

func (s *Snapshot) Produce(ctx context.Context) (io.ReadCloser, domain.ExitCheck, error) {
	before, err := s.lastSave(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read last save time: %w", err)
	}

	if _, err := s.runtime.Exec(ctx, s.cfg.Container, s.cli("BGSAVE"), nil); err != nil {
		return nil, nil, fmt.Errorf("failed to trigger background save: %w", err)
	}

	if err := s.waitForSave(ctx, before); err != nil {
		return nil, nil, err
	}

	stream, err := s.runtime.ExtractFile(ctx, s.cfg.Container, s.cfg.RDBPathInContainer)
	if err != nil {
		return nil, nil, err
	}
	return stream, nil, nil
}

func (s *Snapshot) waitForSave(ctx context.Context, before int64) error {
	deadline := time.NewTimer(s.saveTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrSaveTimeout, s.saveTimeout)
		case <-tick.C:
			last, err := s.lastSave(ctx)
			if err != nil {
				return fmt.Errorf("failed to poll last save time: %w", err)
			}
			if last > before {
				return nil
			}
		}
	}
}

func (s *Snapshot) lastSave(ctx context.Context) (int64, error) {
	out, err := s.runtime.Exec(ctx, s.cfg.Container, s.cli("LASTSAVE"), nil)
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected LASTSAVE reply %q: %w", strings.TrimSpace(string(out)), err)
	}
	return ts, nil
}

func (s *Snapshot) cli(command string) []string {
	cmd := []string{"redis-cli"}
	if s.cfg.Password != "" {
		cmd = append(cmd, "-a", s.cfg.Password, "--no-auth-warning")
	}
	return append(cmd, command)
}

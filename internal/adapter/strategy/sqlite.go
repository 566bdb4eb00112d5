package strategy

import (
	"context"
	"io"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

// FileExtract copies an embedded database file straight out of the
// container. The file is the artifact; consistency is whatever the file
// offers at extraction instant, which callers accept as best effort.
type FileExtract struct {
	cfg     config.DatabaseConfig
	runtime domain.ContainerRuntime
}

func NewFileExtract(cfg config.DatabaseConfig, runtime domain.ContainerRuntime) *FileExtract {
	return &FileExtract{cfg: cfg, runtime: runtime}
}

func (s *FileExtract) Ext() string {
	return "db"
}

func (s *FileExtract) Produce(ctx context.Context) (io.ReadCloser, domain.ExitCheck, error) {
	stream, err := s.runtime.ExtractFile(ctx, s.cfg.Container, s.cfg.PathInContainer)
	if err != nil {
		return nil, nil, err
	}
	return stream, nil, nil
}

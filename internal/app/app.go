package app

import (
	"context"
	"fmt"

	"github.com/kustosproject/kustos/internal/adapter/container"
	"github.com/kustosproject/kustos/internal/adapter/notify"
	"github.com/kustosproject/kustos/internal/adapter/storage"
	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
	"github.com/kustosproject/kustos/internal/infrastructure/logger"
	"github.com/kustosproject/kustos/internal/infrastructure/scheduler"
	"github.com/kustosproject/kustos/internal/usecase"
)

// App wires configuration, the Docker runtime and the notification
// adapters into a ready-to-run backup orchestrator.
type App struct {
	config   *config.Config
	logger   *logger.Logger
	runner   *usecase.Runner
	telegram *notify.Telegram
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)
	log.Infof("Found %d database(s) configured", len(cfg.Databases))

	runtime, err := container.NewDockerRuntime()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize docker client: %w", err)
	}

	var notifier domain.Notifier = notify.Nop{}
	if cfg.HealthcheckURL != "" {
		notifier = notify.NewHealthchecks(cfg.HealthcheckURL)
		log.Infof("✓ Healthcheck pings enabled")
	}

	var replicator domain.Replicator
	if cfg.Replication.S3.Enabled {
		s3, err := storage.NewS3Replicator(cfg.Replication.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 replication: %w", err)
		}
		replicator = s3
		log.Infof("✓ S3 replication enabled (bucket: %s)", cfg.Replication.S3.Bucket)
	}

	var telegram *notify.Telegram
	if cfg.Telegram.Enabled {
		telegram, err = notify.NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram: %w", err)
		}
		log.Infof("✓ Telegram summaries enabled")
	}

	return &App{
		config:   cfg,
		logger:   log,
		runner:   usecase.NewRunner(cfg, runtime, notifier, replicator, log),
		telegram: telegram,
	}, nil
}

// RunOnce executes a single backup run across all configured databases.
func (a *App) RunOnce(ctx context.Context) *domain.RunReport {
	report := a.runner.Execute(ctx)

	if a.telegram != nil {
		if err := a.telegram.SendSummary(usecase.Summarize(report)); err != nil {
			a.logger.Warnf("Telegram summary failed: %v", err)
		}
	}
	return report
}

// RunScheduled runs backups on the given cron spec until ctx is
// cancelled. An in-flight run is allowed to finish before returning.
func (a *App) RunScheduled(ctx context.Context, spec string) error {
	sched := scheduler.New()
	if err := sched.Schedule(spec, func(ctx context.Context) {
		a.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule backups: %w", err)
	}

	a.logger.Infof("Scheduler started (spec: %s)", spec)
	sched.Run(ctx)
	a.logger.Infof("Scheduler stopped")
	return nil
}

func (a *App) Shutdown() {
	a.logger.Close()
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kustosproject/kustos/internal/adapter/archive"
	"github.com/kustosproject/kustos/internal/adapter/strategy"
	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Runner orchestrates one backup run across all configured databases.
// Databases are independent units of work on a bounded pool; one failing
// never aborts, delays or corrupts another.
type Runner struct {
	cfg        *config.Config
	runtime    domain.ContainerRuntime
	writer     *archive.Writer
	notifier   domain.Notifier
	replicator domain.Replicator
	logger     Logger

	now func() time.Time
}

func NewRunner(
	cfg *config.Config,
	runtime domain.ContainerRuntime,
	notifier domain.Notifier,
	replicator domain.Replicator,
	logger Logger,
) *Runner {
	return &Runner{
		cfg:        cfg,
		runtime:    runtime,
		writer:     archive.NewWriter(),
		notifier:   notifier,
		replicator: replicator,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs every configured database once and aggregates the outcomes.
// The report lists outcomes in configuration order.
func (r *Runner) Execute(ctx context.Context) *domain.RunReport {
	loc := r.cfg.Location()
	started := r.now().In(loc)
	stamp := started.Format("20060102_150405_MST")

	report := &domain.RunReport{
		ID:        uuid.NewString(),
		StartedAt: started,
		Outcomes:  make([]domain.Outcome, len(r.cfg.Databases)),
	}

	r.logger.Infof("Starting backup run %s at %s (%d databases)",
		report.ID, stamp, len(r.cfg.Databases))

	if err := r.notifier.Start(ctx, report.ID); err != nil {
		r.logger.Warnf("Healthcheck start ping failed: %v", err)
	}

	runCtx := ctx
	if r.cfg.Backup.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Backup.RunTimeout)
		defer cancel()
	}

	workers := min(len(r.cfg.Databases), r.cfg.Backup.Concurrency)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, db := range r.cfg.Databases {
		wg.Add(1)
		go func(i int, db config.DatabaseConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := r.backupOne(runCtx, db, stamp)
			report.Outcomes[i] = outcome
			r.logOutcome(ctx, report.ID, outcome)
		}(i, db)
	}

	// all log pings land before the finish ping
	wg.Wait()

	summary := Summarize(report)
	r.logger.Infof("%s", summary)

	if err := r.notifier.Finish(ctx, report.ID, report.Success(), summary); err != nil {
		r.logger.Warnf("Healthcheck finish ping failed: %v", err)
	}

	return report
}

func (r *Runner) backupOne(ctx context.Context, db config.DatabaseConfig, stamp string) domain.Outcome {
	start := r.now()
	outcome := domain.Outcome{Database: db.Name, Kind: db.Type}

	fail := func(stage domain.Stage, err error) domain.Outcome {
		// a cancelled run is recorded as a dispatch failure, whatever
		// stage it interrupted; deadline expiry and operator shutdown
		// keep distinct causes
		if ctxErr := ctx.Err(); ctxErr != nil {
			stage = domain.StageDispatch
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				err = fmt.Errorf("run timeout: %w", ctxErr)
			} else {
				err = fmt.Errorf("run cancelled: %w", ctxErr)
			}
		}
		outcome.Stage = stage
		outcome.Err = err
		outcome.Duration = r.now().Sub(start)
		r.logger.Errorf("[%s] Backup failed at stage %s: %v", db.Name, stage, err)
		return outcome
	}

	r.logger.Infof("[%s] Starting backup (%s in container %s)", db.Name, db.Type, db.Container)

	strat, err := strategy.New(db, r.runtime)
	if err != nil {
		return fail(domain.StageDispatch, err)
	}

	stream, finalize, err := strat.Produce(ctx)
	if err != nil {
		return fail(domain.StageDispatch, err)
	}
	defer stream.Close()

	dir := filepath.Join(r.cfg.Backup.RootDir, db.Type, db.Name)
	filename := fmt.Sprintf("%s-%s.%s.gz", db.Name, stamp, strat.Ext())

	res, err := r.writer.Commit(dir, filename, stream, finalize)
	if err != nil {
		var streamErr *archive.StreamError
		if errors.As(err, &streamErr) {
			return fail(domain.StageStream, err)
		}
		return fail(domain.StageWrite, err)
	}

	outcome.Path = res.Path
	outcome.Bytes = res.Bytes
	outcome.Duration = r.now().Sub(start)
	r.logger.Infof("[%s] Backup saved to %s (%.2f MB in %s)",
		db.Name, res.Path, float64(res.Bytes)/(1024*1024), outcome.Duration.Round(time.Millisecond))

	purged, err := Purge(dir, r.cfg.Backup.RetentionDays, r.now().In(r.cfg.Location()))
	if err != nil {
		outcome.PurgeWarning = err
		r.logger.Warnf("[%s] Purge incomplete: %v", db.Name, err)
	}
	outcome.Purged = purged.Deleted
	outcome.PurgedBytes = purged.Bytes
	if purged.Deleted > 0 {
		r.logger.Infof("[%s] Purged %d old backup(s)", db.Name, purged.Deleted)
	}

	if r.replicator != nil {
		key := path.Join(db.Type, db.Name, filename)
		if err := r.replicator.Upload(ctx, res.Path, key); err != nil {
			r.logger.Warnf("[%s] Replication failed: %v", db.Name, err)
		} else {
			r.logger.Infof("[%s] Replicated to %s", db.Name, key)
		}
	}

	return outcome
}

func (r *Runner) logOutcome(ctx context.Context, runID string, outcome domain.Outcome) {
	var message string
	if outcome.Success() {
		message = fmt.Sprintf("SUCCESS: backup for %s completed (%d bytes)", outcome.Database, outcome.Bytes)
	} else {
		message = fmt.Sprintf("FAILURE: backup for %s failed at %s: %v", outcome.Database, outcome.Stage, outcome.Err)
	}
	if err := r.notifier.Log(ctx, runID, message); err != nil {
		r.logger.Warnf("Healthcheck log ping failed: %v", err)
	}
}

// Summarize renders a one-line human summary of a run, suitable for the
// finish ping and chat notifications.
func Summarize(report *domain.RunReport) string {
	succeeded := 0
	for _, o := range report.Outcomes {
		if o.Success() {
			succeeded++
		}
	}
	newFiles, newBytes := report.NewFiles()
	purged, purgedBytes := report.PurgedFiles()

	status := "completed successfully"
	if !report.Success() {
		status = "failed for one or more databases"
	}

	return fmt.Sprintf("Backup run %s %s: %d/%d succeeded. New: %d files (%.2f MB). Purged: %d files (%.2f MB).",
		report.ID, status, succeeded, len(report.Outcomes),
		newFiles, float64(newBytes)/(1024*1024),
		purged, float64(purgedBytes)/(1024*1024))
}

package domain

import (
	"context"
	"io"
	"time"
)

// Stage identifies where in the per-database pipeline a failure occurred.
type Stage string

const (
	StageDispatch Stage = "dispatch"
	StageStream   Stage = "stream"
	StageWrite    Stage = "write"
	StagePurge    Stage = "purge"
)

// Strategy knows how to obtain a consistent byte stream from one live
// database. Produce errors are dispatch failures; errors surfaced by the
// stream or its ExitCheck are stream failures.
type Strategy interface {
	// Ext is the artifact extension before compression (sql, dump, db, rdb).
	Ext() string
	Produce(ctx context.Context) (io.ReadCloser, ExitCheck, error)
}

// Outcome is the immutable per-database result of one run.
type Outcome struct {
	Database string
	Kind     string

	// Success fields.
	Path     string
	Bytes    int64
	Duration time.Duration

	// Failure fields. Err == nil means success.
	Stage Stage
	Err   error

	// PurgeWarning annotates an otherwise successful outcome whose purge
	// step failed. It never turns the outcome into a failure.
	PurgeWarning error

	Purged      int
	PurgedBytes int64
}

func (o Outcome) Success() bool {
	return o.Err == nil
}

// RunReport aggregates all outcomes of one run. The run ID correlates
// health-check pings.
type RunReport struct {
	ID        string
	StartedAt time.Time
	Outcomes  []Outcome
}

func (r *RunReport) Success() bool {
	for _, o := range r.Outcomes {
		if !o.Success() {
			return false
		}
	}
	return true
}

func (r *RunReport) NewFiles() (count int, bytes int64) {
	for _, o := range r.Outcomes {
		if o.Success() {
			count++
			bytes += o.Bytes
		}
	}
	return count, bytes
}

func (r *RunReport) PurgedFiles() (count int, bytes int64) {
	for _, o := range r.Outcomes {
		count += o.Purged
		bytes += o.PurgedBytes
	}
	return count, bytes
}

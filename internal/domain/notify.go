package domain

import "context"

// Notifier reports run health to an external monitoring endpoint. The
// orchestrator guarantees Start happens before any Log and Finish after
// all of them. Delivery errors are warnings, never run failures.
type Notifier interface {
	Start(ctx context.Context, runID string) error
	Log(ctx context.Context, runID, message string) error
	Finish(ctx context.Context, runID string, success bool, message string) error
}

// Replicator copies a committed backup file to a remote location.
type Replicator interface {
	Upload(ctx context.Context, localPath, remoteKey string) error
}

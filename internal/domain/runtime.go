package domain

import (
	"context"
	"errors"
	"io"
)

var (
	ErrContainerNotFound    = errors.New("container not found")
	ErrContainerUnreachable = errors.New("container runtime unreachable")
	ErrPathNotFound         = errors.New("path not found in container")
)

// ExitCheck reports the exit status of an in-container command. It must be
// called only after the associated stream has been fully drained.
type ExitCheck func() error

// ContainerRuntime executes commands inside a named container and pulls
// single files out of its filesystem.
type ContainerRuntime interface {
	// ExecStream starts cmd inside the target container and returns its
	// stdout as a live stream plus a deferred exit-status check.
	ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, ExitCheck, error)

	// Exec runs cmd inside the target container to completion and returns
	// its combined stdout. A nonzero exit code is an error.
	Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error)

	// ExtractFile retrieves the file at path from the container's
	// filesystem, de-archiving transparently so callers see raw bytes.
	ExtractFile(ctx context.Context, target, path string) (io.ReadCloser, error)
}

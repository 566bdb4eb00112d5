package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/kustosproject/kustos/internal/domain"
)

// stderr from a failing dump tool is kept for diagnostics, but capped so a
// chatty tool cannot grow the buffer unbounded.
const maxStderrBytes = 8 * 1024

// DockerRuntime talks to the local Docker daemon over the Engine API.
type DockerRuntime struct {
	cli client.APIClient
}

func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, domain.ExitCheck, error) {
	created, err := d.cli.ContainerExecCreate(ctx, target, types.ExecConfig{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, nil, mapError(err, target)
	}

	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, nil, mapError(err, target)
	}

	pr, pw := io.Pipe()
	stderr := &cappedBuffer{limit: maxStderrBytes}

	go func() {
		_, copyErr := stdcopy.StdCopy(pw, stderr, attached.Reader)
		attached.Close()
		pw.CloseWithError(copyErr)
	}()

	check := func() error {
		inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return fmt.Errorf("failed to inspect exec %s: %w", created.ID, err)
		}
		if inspect.ExitCode != 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "no stderr output"
			}
			return fmt.Errorf("command %q exited with code %d: %s", cmd[0], inspect.ExitCode, msg)
		}
		return nil
	}

	return pr, check, nil
}

func (d *DockerRuntime) Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error) {
	stream, check, err := d.ExecStream(ctx, target, cmd, env)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	out, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read command output: %w", err)
	}
	if err := check(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractFile copies a single file out of the container. The daemon hands
// back a tar archive; only the raw file bytes reach the caller.
func (d *DockerRuntime) ExtractFile(ctx context.Context, target, filePath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, target, filePath)
	if err != nil {
		// the daemon 404s for a missing container and for a missing path
		// alike; a live container means the path was at fault
		if errdefs.IsNotFound(err) {
			if _, inspectErr := d.cli.ContainerInspect(ctx, target); inspectErr == nil {
				return nil, fmt.Errorf("%w: %s in %s", domain.ErrPathNotFound, filePath, target)
			}
		}
		return nil, mapError(err, target)
	}

	base := path.Base(filePath)
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			rc.Close()
			return nil, fmt.Errorf("%w: %s missing from archive", domain.ErrPathNotFound, base)
		}
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to read archive from container: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if path.Base(hdr.Name) == base {
			return &tarFileReader{tr: tr, underlying: rc}, nil
		}
	}
}

func mapError(err error, target string) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %s", domain.ErrContainerNotFound, target)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", domain.ErrContainerUnreachable, err)
	default:
		return fmt.Errorf("docker api error for %s: %w", target, err)
	}
}

type tarFileReader struct {
	tr         *tar.Reader
	underlying io.ReadCloser
}

func (t *tarFileReader) Read(p []byte) (int, error) {
	return t.tr.Read(p)
}

func (t *tarFileReader) Close() error {
	return t.underlying.Close()
}

type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

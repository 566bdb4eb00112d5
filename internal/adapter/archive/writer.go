package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StreamError marks a commit failure caused by the source stream or the
// dump tool behind it, as opposed to the local filesystem.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("source stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Result describes a committed backup file.
type Result struct {
	Path  string
	Bytes int64
}

// Writer commits byte streams to disk as gzip files. The temp file lives in
// the target directory so the final rename never crosses filesystems.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Commit streams src through gzip into dir/filename. finalize, when non-nil,
// runs after the stream is drained and before the rename; its error (a
// dump tool exiting nonzero) aborts the commit. Readers never observe a
// partial file under the final name.
func (w *Writer) Commit(dir, filename string, src io.Reader, finalize func() error) (Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filename+".tmp-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	gzw, err := gzip.NewWriterLevel(tmp, gzip.BestCompression)
	if err != nil {
		discard()
		return Result{}, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	tracked := &trackingReader{r: src}
	if _, err := io.Copy(gzw, tracked); err != nil {
		discard()
		if tracked.err != nil {
			return Result{}, &StreamError{Err: tracked.err}
		}
		return Result{}, fmt.Errorf("failed to write backup: %w", err)
	}

	if err := gzw.Close(); err != nil {
		discard()
		return Result{}, fmt.Errorf("failed to flush gzip stream: %w", err)
	}

	if finalize != nil {
		if err := finalize(); err != nil {
			discard()
			return Result{}, &StreamError{Err: err}
		}
	}

	info, err := tmp.Stat()
	if err != nil {
		discard()
		return Result{}, fmt.Errorf("failed to stat temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	finalPath := filepath.Join(dir, filename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("failed to commit backup file: %w", err)
	}

	return Result{Path: finalPath, Bytes: info.Size()}, nil
}

// trackingReader remembers whether an io.Copy error came from the source
// side, so stream failures can be told apart from write failures.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

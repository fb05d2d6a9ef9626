package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
)

// Source is a named handle to raw input bytes. The name drives format
// detection and appears in logs and summaries.
type Source interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a local file.
type FileSource string

func (f FileSource) Name() string { return string(f) }

func (f FileSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(string(f))
}

// BytesSource serves an in-memory payload.
type BytesSource struct {
	Filename string
	Data     []byte
}

func (b BytesSource) Name() string { return b.Filename }

func (b BytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

package storage

import (
	"context"
	"io"
	"time"

	"github.com/canvas-ai/canvas-stored/pkg/model"
)

type errString string

func (e errString) Error() string { return string(e) }

const (
	ErrNotFound     errString = "not found"
	ErrForbidden    errString = "forbidden"
	ErrNotSupported errString = "not supported"
	ErrExists       errString = "exists already"
)

// FileInfo is the subset of object metadata a backend can report
// without reading the content.
type FileInfo struct {
	Size     int64
	Modified time.Time
}

// Store implementations know how to persist blobs in a K/V fashion.
//
// Typically this is something file system-like. Examples are S3, local
// FS, NFS, ... Implementations of this interface are assumed to be
// fairly simple: the metadata index and reconciliation live elsewhere.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader) error
	Delete(context.Context, string) error
	Stat(context.Context, string) (FileInfo, error)
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// Watchable is the optional capability of a Store to emit change
// notifications for the keys it holds. Watch blocks until ctx is done,
// invoking fn for every add/change/unlink, in emission order per key.
//
// Capability is resolved once at backend registration, not per call.
type Watchable interface {
	Watch(ctx context.Context, fn func(model.ChangeEvent)) error
}

// PipeIO copies reader to writer with a fixed buffer.
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	buf := make([]byte, 32*1024)
	return io.CopyBuffer(writer, reader, buf)
}

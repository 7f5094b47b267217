package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one object in the archive bucket, as listed by the admin
// archive endpoint.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive objects. Put is write-once: it fails with
// ErrAlreadyExists when path is taken. PutMultipart streams large ledgers
// in parts of at least partSize bytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive objects back. Get fails with ErrNotFound for a
// missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver writes the bid ledger of every auction closed since the given
// time to cold storage and reports how many it wrote.
type Archiver interface {
	ArchiveClosed(ctx context.Context, since time.Time) (int64, error)
}

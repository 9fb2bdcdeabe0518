// Package core defines the object storage contract shared by the attachment
// and export drivers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores objects below a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory keeps objects in process memory.
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string        // only GET is supported
	Expiry time.Duration // default 15m
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a minimal S3-like object store. Put never overwrites.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrNotFound reports a missing object.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrExists reports a Put against an occupied key.
	ErrExists = errors.New("blobstore: object already exists")
)

// Metadata keys stamped on attachment objects.
const (
	MetaTable    = "erp-table"
	MetaRecordID = "erp-record-id"
)

// AttachmentKey builds the object key for a file attached to a table row:
// attachments/<table>/<recordID>/<objectID>-<name>. The name is reduced to its
// base component.
func AttachmentKey(table, recordID, objectID, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, "..", "_")
	if base == "." || base == "/" || base == "_" {
		base = "file"
	}
	return fmt.Sprintf("attachments/%s/%s/%s-%s", table, recordID, objectID, base)
}

// AttachmentPrefix lists every attachment of one row.
func AttachmentPrefix(table, recordID string) string {
	return fmt.Sprintf("attachments/%s/%s/", table, recordID)
}

// ExportKey is where the export worker writes a finished CSV.
func ExportKey(exportID string) string {
	return "exports/" + exportID + ".csv"
}

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

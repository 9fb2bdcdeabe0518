// Package blob is the entry point to attachment and export object storage.
// Callers depend on Store; driver packages stay behind Open.
package blob

import (
	"erpcore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	MetaTable    = core.MetaTable
	MetaRecordID = core.MetaRecordID

	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// Key helpers re-exported for callers outside the blob tree.
var (
	AttachmentKey    = core.AttachmentKey
	AttachmentPrefix = core.AttachmentPrefix
	ExportKey        = core.ExportKey
)

package blob

import (
	"context"
	"fmt"

	infraFS "erpcore/internal/infra/blob/fs"
	infraMemory "erpcore/internal/infra/blob/memory"
	infraS3 "erpcore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// Options selects and configures a driver.
type Options struct {
	Driver Driver // fs|s3|memory, default fs
	FSRoot string
	S3     S3Config
}

// Open constructs the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return infraFS.New(opts.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, opts.S3)
	case DriverMemory:
		return infraMemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns a process-local store.
func NewMemory() Store { return infraMemory.New() }

// NewMockS3ForTests exposes the fake-transport S3 store for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

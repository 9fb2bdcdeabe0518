// Package core wires the table engine to its storage, attachment store,
// metrics and logging.
package core

import (
	"context"
	"fmt"

	"erpcore/internal/blob"
	"erpcore/internal/config"
	"erpcore/internal/infra/persistence/memory"
	"erpcore/internal/infra/persistence/postgres"
	"erpcore/internal/infra/persistence/sqlite"
	"erpcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Backends resolves table backends and owns the underlying connection.
type Backends interface {
	domain.Tables
	Close() error
}

type memoryBackends struct{ *memory.Store }

func (memoryBackends) Close() error { return nil }

// OpenBackends selects a CRUD backend. Defaults to sqlite when unset.
func OpenBackends(ctx context.Context, cfg config.Storage) (Backends, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memoryBackends{memory.NewStore()}, nil
	case StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlob builds the attachment store named by cfg.
func OpenBlob(ctx context.Context, cfg config.Blob) (blob.Store, error) {
	return blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
	})
}

package table

import (
	"context"
	"fmt"
	"log/slog"

	"erpcore/internal/celledit"
	"erpcore/pkg/domain"
)

// Options configures a Table.
type Options struct {
	Notifier Notifier
	Logger   *slog.Logger
	Observer Observer
	Keys     *KeyBus
}

// Table is the state object a table-hosting view owns for its mounted
// lifetime: the store, its draft controller and the mutation engine, bound to
// one table spec and backend.
type Table struct {
	Spec    domain.TableSpec
	Store   *Store
	Pending *PendingRows
	Engine  *Engine

	backend domain.Backend
	logger  *slog.Logger
}

// New assembles a Table.
func New(spec domain.TableSpec, backend domain.Backend, opts Options) *Table {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("table", spec.Name)
	store := NewStore()
	pending := NewPendingRows(store, opts.Keys, opts.Notifier, logger)
	pending.SetPrepare(func(fields domain.Record) (domain.Record, error) {
		return celledit.CanonicalizeRecord(spec, fields, true)
	})
	return &Table{
		Spec:    spec,
		Store:   store,
		Pending: pending,
		Engine:  NewEngine(store, pending, backend, opts.Notifier, logger, opts.Observer),
		backend: backend,
		logger:  logger,
	}
}

// Refresh loads a fresh snapshot from the backend. Backend errors are
// returned verbatim.
func (t *Table) Refresh(ctx context.Context) error {
	rows, err := t.backend.List(ctx, t.Spec.OrderBy)
	if err != nil {
		return fmt.Errorf("list %s: %w", t.Spec.Name, err)
	}
	t.Store.Replace(rows)
	t.logger.Debug("table refreshed", "rows", len(rows))
	return nil
}

// Begin starts a draft row.
func (t *Table) Begin(defaults domain.Record) error {
	if err := t.Spec.ValidateFields(defaults); err != nil {
		return err
	}
	return t.Pending.Begin(defaults)
}

// Commit canonicalizes and persists the draft row, validating the table's
// required fields.
func (t *Table) Commit(ctx context.Context) (domain.Record, error) {
	return t.Pending.Commit(ctx, t.Spec.RequiredFields(), t.backend.Create)
}

// Update edits a row. Changes to a saved row are canonicalized the way the
// backend stores them and may not touch read-only columns; draft edits are
// only checked by name and canonicalized on commit.
func (t *Table) Update(ctx context.Context, id string, changes domain.Record) error {
	if id == PendingID {
		if err := t.Spec.ValidateFields(changes); err != nil {
			return err
		}
		return t.Engine.Update(ctx, id, changes)
	}
	clean, err := celledit.CanonicalizeRecord(t.Spec, changes, false)
	if err != nil {
		return err
	}
	return t.Engine.Update(ctx, id, clean)
}

// DeleteMany deletes rows in bulk.
func (t *Table) DeleteMany(ctx context.Context, ids []string) (DeleteReport, error) {
	return t.Engine.DeleteMany(ctx, ids)
}

// Reorder persists a new row order when the table supports it.
func (t *Table) Reorder(ctx context.Context, ordered []domain.Record) error {
	if !t.Spec.Reorderable {
		return nil
	}
	return t.Engine.Reorder(ctx, ordered)
}

// Close drops transient state when the view unmounts.
func (t *Table) Close() {
	t.Pending.Cancel()
}

// Package memory provides the in-memory implementation of the table backends
// used for tests, the CLI and ephemeral environments. The SQLite and Postgres
// stores embed it and snapshot its state after every successful mutation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"erpcore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Tables             = (*Store)(nil)
	_ domain.Backend            = (*Table)(nil)
	_ domain.UniquenessChecker  = (*Table)(nil)
	_ domain.Reorderer          = (*ReorderableTable)(nil)
	_ domain.AttachmentAppender = (*Table)(nil)
)

// Snapshot captures every table's rows in insertion order, keyed by table
// name.
type Snapshot map[string][]domain.Record

// CommitHook persists a snapshot after a mutation. A hook error undoes the
// mutation.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Store holds the rows of every catalog table.
type Store struct {
	mu       sync.RWMutex
	specs    map[string]domain.TableSpec
	order    []string
	tables   map[string][]domain.Record
	nowFn    func() time.Time
	idFn     func() string
	onCommit CommitHook
}

// NewStore constructs a store serving specs, or the built-in catalog when
// none are given.
func NewStore(specs ...domain.TableSpec) *Store {
	if len(specs) == 0 {
		specs = domain.Catalog()
	}
	s := &Store{
		specs:  make(map[string]domain.TableSpec, len(specs)),
		tables: make(map[string][]domain.Record, len(specs)),
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
		s.order = append(s.order, spec.Name)
	}
	return s
}

// OnCommit installs the persistence hook.
func (s *Store) OnCommit(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = hook
}

// SetNowFunc overrides the clock used for timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// NowFunc returns the clock used for timestamps.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// TableNames lists served tables in declaration order.
func (s *Store) TableNames() []string {
	return append([]string(nil), s.order...)
}

// ExportState clones the current state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	out := make(Snapshot, len(s.tables))
	for name, rows := range s.tables {
		out[name] = domain.CloneRecords(rows)
	}
	return out
}

// ImportState replaces the state with snapshot. Tables the store does not
// serve are ignored; rows without an id or with a duplicate id are dropped.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string][]domain.Record, len(snapshot))
	for name, rows := range snapshot {
		if _, ok := s.specs[name]; !ok {
			continue
		}
		seen := make(map[string]struct{}, len(rows))
		kept := make([]domain.Record, 0, len(rows))
		for _, r := range rows {
			id := r.ID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			kept = append(kept, r.Clone())
		}
		s.tables[name] = kept
	}
}

// Table resolves the backend of a catalog table. Reorderable tables also
// implement domain.Reorderer.
func (s *Store) Table(name string) (domain.Backend, error) {
	spec, ok := s.specs[name]
	if !ok {
		return nil, domain.ErrNotFound{Table: "table", ID: name}
	}
	t := &Table{store: s, spec: spec}
	if spec.Reorderable {
		return &ReorderableTable{Table: t}, nil
	}
	return t, nil
}

// mutate runs fn against the rows of table under the write lock, then runs
// the commit hook. A failing fn or hook restores the previous rows.
func (s *Store) mutate(ctx context.Context, table string, fn func(rows []domain.Record, now time.Time) ([]domain.Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tables[table]
	next, err := fn(domain.CloneRecords(prev), s.nowFn())
	if err != nil {
		return err
	}
	s.tables[table] = next
	if s.onCommit != nil {
		if err := s.onCommit(ctx, s.snapshotLocked()); err != nil {
			s.tables[table] = prev
			return fmt.Errorf("persist %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) rows(table string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneRecords(s.tables[table])
}

// Table is the backend for one catalog table.
type Table struct {
	store *Store
	spec  domain.TableSpec
}

// Spec returns the table spec.
func (t *Table) Spec() domain.TableSpec { return t.spec }

func (t *Table) authorize(ctx context.Context, want domain.Permission) error {
	if msg, ok := domain.Authorize(ctx, t.spec.Module, want); !ok {
		return &domain.AuthorizationError{Message: msg}
	}
	return nil
}

// List returns the rows ordered by orderBy ("field" ascending, "-field"
// descending, "" for insertion order).
func (t *Table) List(ctx context.Context, orderBy string) ([]domain.Record, error) {
	if err := t.authorize(ctx, domain.PermRead); err != nil {
		return nil, err
	}
	rows := t.store.rows(t.spec.Name)
	SortRecords(rows, orderBy)
	return rows, nil
}

// GetByID returns one row.
func (t *Table) GetByID(ctx context.Context, id string) (domain.Record, error) {
	if err := t.authorize(ctx, domain.PermRead); err != nil {
		return nil, err
	}
	for _, r := range t.store.rows(t.spec.Name) {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound{Table: t.spec.Name, ID: id}
}

// Create inserts a row, assigning its id and timestamps.
func (t *Table) Create(ctx context.Context, fields domain.Record) domain.CreateResult {
	if err := t.authorize(ctx, domain.PermWrite); err != nil {
		return domain.CreateResult{Error: err.Error()}
	}
	if err := t.spec.ValidateFields(fields); err != nil {
		return domain.CreateResult{Error: err.Error()}
	}
	if missing := missingRequired(t.spec, fields); len(missing) > 0 {
		return domain.CreateResult{Error: fmt.Sprintf("%s: %s", domain.MsgRequired, strings.Join(missing, ", "))}
	}
	rec := fields.Without(domain.FieldCreatedAt, domain.FieldUpdatedAt)
	var created domain.Record
	err := t.store.mutate(ctx, t.spec.Name, func(rows []domain.Record, now time.Time) ([]domain.Record, error) {
		id := rec.ID()
		switch {
		case id == domain.ReservedID:
			return nil, fmt.Errorf("%s: %s", domain.MsgReservedID, id)
		case id == "":
			id = t.store.idFn()
		case indexOf(rows, id) >= 0:
			return nil, fmt.Errorf("%s for id: %s", domain.MsgDuplicate, id)
		}
		if err := checkUnique(t.spec, rows, rec, ""); err != nil {
			return nil, err
		}
		rec[domain.FieldID] = id
		stamp := now.Format(time.RFC3339Nano)
		rec[domain.FieldCreatedAt] = stamp
		rec[domain.FieldUpdatedAt] = stamp
		if t.spec.Reorderable {
			if _, ok := rec.SortOrder(); !ok {
				rec[domain.FieldSortOrder] = nextSortOrder(rows)
			}
		}
		created = rec.Clone()
		return append(rows, rec), nil
	})
	if err != nil {
		return domain.CreateResult{Error: err.Error()}
	}
	return domain.CreateResult{Data: created}
}

// Update rewrites fields of one row.
func (t *Table) Update(ctx context.Context, id string, changes domain.Record) domain.MutationResult {
	if err := t.authorize(ctx, domain.PermWrite); err != nil {
		return domain.Failed(err.Error())
	}
	if err := t.spec.ValidateFields(changes); err != nil {
		return domain.Failed(err.Error())
	}
	changes = changes.Without(domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt)
	for _, name := range t.spec.RequiredFields() {
		if _, touched := changes[name]; touched && !changes.Has(name) {
			return domain.Failed(fmt.Sprintf("%s: %s", domain.MsgRequired, name))
		}
	}
	err := t.store.mutate(ctx, t.spec.Name, func(rows []domain.Record, now time.Time) ([]domain.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, domain.ErrNotFound{Table: t.spec.Name, ID: id}
		}
		if err := checkUnique(t.spec, rows, changes, id); err != nil {
			return nil, err
		}
		for k, v := range changes {
			rows[i][k] = v
		}
		rows[i][domain.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		return rows, nil
	})
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Succeeded()
}

// Delete removes one row.
func (t *Table) Delete(ctx context.Context, id string) domain.MutationResult {
	if err := t.authorize(ctx, domain.PermWrite); err != nil {
		return domain.Failed(err.Error())
	}
	err := t.store.mutate(ctx, t.spec.Name, func(rows []domain.Record, _ time.Time) ([]domain.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, domain.ErrNotFound{Table: t.spec.Name, ID: id}
		}
		return append(rows[:i], rows[i+1:]...), nil
	})
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Succeeded()
}

// AppendAttachment adds att to the attachments column of row id under the
// store's write lock.
func (t *Table) AppendAttachment(ctx context.Context, id string, att domain.Attachment) domain.MutationResult {
	if err := t.authorize(ctx, domain.PermWrite); err != nil {
		return domain.Failed(err.Error())
	}
	if _, ok := t.spec.Field(domain.FieldAttachments); !ok {
		return domain.Failed((&domain.ValidationError{Fields: []string{domain.FieldAttachments}, Message: domain.MsgUnknownField}).Error())
	}
	err := t.store.mutate(ctx, t.spec.Name, func(rows []domain.Record, now time.Time) ([]domain.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, domain.ErrNotFound{Table: t.spec.Name, ID: id}
		}
		rows[i][domain.FieldAttachments] = append(domain.AttachmentsOf(rows[i]), att)
		rows[i][domain.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		return rows, nil
	})
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Succeeded()
}

// IsUnique reports whether no row other than excludeID holds value in field.
func (t *Table) IsUnique(ctx context.Context, field, value, excludeID string) (bool, error) {
	if err := t.authorize(ctx, domain.PermRead); err != nil {
		return false, err
	}
	if _, ok := t.spec.Field(field); !ok {
		return false, &domain.ValidationError{Fields: []string{field}, Message: domain.MsgUnknownField}
	}
	for _, r := range t.store.rows(t.spec.Name) {
		if r.ID() != excludeID && r.Text(field) == value {
			return false, nil
		}
	}
	return true, nil
}

// ReorderableTable is a Table that also persists drag reordering.
type ReorderableTable struct {
	*Table
}

// Reorder stamps sort_order on the listed rows.
func (t *ReorderableTable) Reorder(ctx context.Context, items []domain.Position) domain.MutationResult {
	if err := t.authorize(ctx, domain.PermWrite); err != nil {
		return domain.Failed(err.Error())
	}
	err := t.store.mutate(ctx, t.spec.Name, func(rows []domain.Record, now time.Time) ([]domain.Record, error) {
		for _, item := range items {
			i := indexOf(rows, item.ID)
			if i < 0 {
				return nil, domain.ErrNotFound{Table: t.spec.Name, ID: item.ID}
			}
			rows[i][domain.FieldSortOrder] = item.Position
			rows[i][domain.FieldUpdatedAt] = now.Format(time.RFC3339Nano)
		}
		return rows, nil
	})
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Succeeded()
}

func indexOf(rows []domain.Record, id string) int {
	for i, r := range rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func missingRequired(spec domain.TableSpec, fields domain.Record) []string {
	var missing []string
	for _, name := range spec.RequiredFields() {
		if !fields.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func checkUnique(spec domain.TableSpec, rows []domain.Record, fields domain.Record, excludeID string) error {
	for _, name := range spec.UniqueFields() {
		if !fields.Has(name) {
			continue
		}
		value := fields.Text(name)
		for _, r := range rows {
			if r.ID() != excludeID && r.Text(name) == value {
				return &domain.ConflictError{Message: fmt.Sprintf("%s for %s: %s", domain.MsgDuplicate, name, value)}
			}
		}
	}
	return nil
}

func nextSortOrder(rows []domain.Record) int {
	top := 0
	for _, r := range rows {
		if so, ok := r.SortOrder(); ok && so > top {
			top = so
		}
	}
	return top + 1
}

// SortRecords orders rows in place by orderBy: "field" ascending, "-field"
// descending. Numbers compare numerically; rows missing the field sort last.
func SortRecords(rows []domain.Record, orderBy string) {
	field, desc := strings.CutPrefix(orderBy, "-")
	if field == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		ah, bh := a.Has(field), b.Has(field)
		if ah != bh {
			return ah
		}
		if !ah {
			return false
		}
		c := compare(a, b, field)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b domain.Record, field string) int {
	if af, aok := numeric(a[field]); aok {
		if bf, bok := numeric(b[field]); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a.Text(field), b.Text(field))
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

package table

import (
	"context"
	"sync"
	"testing"
	"time"

	"erpcore/pkg/domain"
)

// fakeBackend is a scriptable domain.Backend. Hooks, when set, decide the
// result of each call; otherwise calls succeed.
type fakeBackend struct {
	mu       sync.Mutex
	rows     []domain.Record
	created  []domain.Record
	updated  []domain.Record
	deleted  []string
	reorders []domain.Position

	createHook  func(domain.Record) domain.CreateResult
	updateHook  func(id string, changes domain.Record) domain.MutationResult
	deleteHook  func(id string) domain.MutationResult
	reorderHook func(items []domain.Position) domain.MutationResult
}

func (b *fakeBackend) List(context.Context, string) ([]domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CloneRecords(b.rows), nil
}

func (b *fakeBackend) GetByID(_ context.Context, id string) (domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.rows {
		if r.ID() == id {
			return r.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound{ID: id}
}

func (b *fakeBackend) Create(_ context.Context, fields domain.Record) domain.CreateResult {
	b.mu.Lock()
	b.created = append(b.created, fields.Clone())
	hook := b.createHook
	b.mu.Unlock()
	if hook != nil {
		return hook(fields)
	}
	out := fields.Clone()
	out[domain.FieldID] = "new-1"
	return domain.CreateResult{Data: out}
}

func (b *fakeBackend) Update(_ context.Context, id string, changes domain.Record) domain.MutationResult {
	b.mu.Lock()
	b.updated = append(b.updated, changes.Clone())
	hook := b.updateHook
	b.mu.Unlock()
	if hook != nil {
		return hook(id, changes)
	}
	return domain.Succeeded()
}

func (b *fakeBackend) Delete(_ context.Context, id string) domain.MutationResult {
	b.mu.Lock()
	b.deleted = append(b.deleted, id)
	hook := b.deleteHook
	b.mu.Unlock()
	if hook != nil {
		return hook(id)
	}
	return domain.Succeeded()
}

func (b *fakeBackend) createCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

// reorderBackend adds the optional reorder capability.
type reorderBackend struct {
	*fakeBackend
}

func (b reorderBackend) Reorder(_ context.Context, items []domain.Position) domain.MutationResult {
	b.mu.Lock()
	b.reorders = append(b.reorders, items...)
	hook := b.reorderHook
	b.mu.Unlock()
	if hook != nil {
		return hook(items)
	}
	return domain.Succeeded()
}

func rows(ids ...string) []domain.Record {
	out := make([]domain.Record, len(ids))
	for i, id := range ids {
		out[i] = domain.Record{"id": id, "status": "open", "name": "row " + id}
	}
	return out
}

func ids(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func newTestEngine(backend domain.Backend, snapshot []domain.Record) (*Engine, *Store, *Recorder) {
	store := NewStore()
	store.Replace(snapshot)
	rec := &Recorder{}
	pending := NewPendingRows(store, NewKeyBus(), rec, nil)
	return NewEngine(store, pending, backend, rec, nil, nil), store, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func fieldOf(t *testing.T, s *Store, id, field string) any {
	t.Helper()
	r, ok := s.Get(id)
	if !ok {
		t.Fatalf("row %s missing", id)
	}
	return r[field]
}

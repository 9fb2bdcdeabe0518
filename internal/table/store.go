// Package table implements the optimistic CRUD table engine: the entity store
// of one table view, the single-draft pending-row controller, and the
// optimistic mutation engine that reconciles speculative edits with the
// backend.
package table

import (
	"math"
	"sort"
	"sync"

	"erpcore/pkg/domain"
)

// Store holds the server-confirmed rows of one table view plus, at most, one
// draft row. Only the PendingRows controller and the Engine mutate it; views
// read through Displayed.
type Store struct {
	mu      sync.RWMutex
	rows    []domain.Record
	pending domain.Record
	gen     uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Replace swaps in a fresh server snapshot. Duplicate ids keep their first
// occurrence. Replace bumps the generation so rollbacks of mutations issued
// against the previous snapshot are discarded.
func (s *Store) Replace(snapshot []domain.Record) {
	rows := make([]domain.Record, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, r := range snapshot {
		id := r.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, r.Clone())
	}
	s.mu.Lock()
	s.rows = rows
	s.gen++
	s.mu.Unlock()
}

// Displayed returns the draft row (if any) followed by the confirmed rows.
func (s *Store) Displayed() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(s.rows)+1)
	if s.pending != nil {
		out = append(out, s.pending.Clone())
	}
	for _, r := range s.rows {
		out = append(out, r.Clone())
	}
	return out
}

// Confirmed returns the confirmed rows without the draft.
func (s *Store) Confirmed() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneRecords(s.rows)
}

// Get returns a copy of the confirmed row with id.
func (s *Store) Get(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.rows[i].Clone(), true
	}
	return nil, false
}

// Pending returns a copy of the draft row.
func (s *Store) Pending() (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil, false
	}
	return s.pending.Clone(), true
}

// Len counts confirmed rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Generation identifies the current snapshot.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Store) indexOf(id string) int {
	for i, r := range s.rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (s *Store) setPending(r domain.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return false
	}
	s.pending = r
	return true
}

func (s *Store) setPendingField(name string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return false
	}
	s.pending[name] = value
	return true
}

func (s *Store) clearPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.pending != nil
	s.pending = nil
	return had
}

// prepend inserts r at the head of the confirmed rows, dropping any row that
// already carries its id.
func (s *Store) prepend(r domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(r.ID()); i >= 0 {
		s.rows = append(s.rows[:i], s.rows[i+1:]...)
	}
	s.rows = append([]domain.Record{r.Clone()}, s.rows...)
}

// priorValue remembers a field's value before a mutation, including absence.
type priorValue struct {
	value   any
	present bool
}

// patch applies changes to the row with id and returns the previous values
// of the touched fields.
func (s *Store) patch(gen uint64, id string, changes domain.Record) (map[string]priorValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil, false
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil, false
	}
	row := s.rows[i]
	prior := make(map[string]priorValue, len(changes))
	for field, value := range changes {
		old, ok := row[field]
		prior[field] = priorValue{value: old, present: ok}
		row[field] = value
	}
	return prior, true
}

// restore writes prior values back onto the row with id, provided the
// snapshot has not been replaced since gen.
func (s *Store) restore(gen uint64, id string, values map[string]priorValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	row := s.rows[i]
	for field, pv := range values {
		if pv.present {
			row[field] = pv.value
		} else {
			delete(row, field)
		}
	}
}

// removed is a row taken out of the store together with its former index.
type removed struct {
	index int
	row   domain.Record
}

func (s *Store) remove(gen uint64, ids []string) []removed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var out []removed
	kept := s.rows[:0:0]
	for i, r := range s.rows {
		if _, ok := drop[r.ID()]; ok {
			out = append(out, removed{index: i, row: r})
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return out
}

// reinsert puts failed deletions back. all holds every row removed by the
// batch so positions can be shifted past the ones that stayed deleted.
func (s *Store) reinsert(gen uint64, all []removed, back map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	sorted := append([]removed(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })
	gone := 0
	for _, r := range sorted {
		if _, ok := back[r.row.ID()]; !ok {
			gone++
			continue
		}
		if s.indexOf(r.row.ID()) >= 0 {
			continue
		}
		at := r.index - gone
		if at > len(s.rows) {
			at = len(s.rows)
		}
		s.rows = append(s.rows, nil)
		copy(s.rows[at+1:], s.rows[at:])
		s.rows[at] = r.row
	}
}

// applyOrder moves the listed rows into the given relative order and stamps
// their sort_order, returning the previous rows for settleOrder.
func (s *Store) applyOrder(gen uint64, positions []domain.Position) ([]domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil, false
	}
	previous := domain.CloneRecords(s.rows)
	rank := make(map[string]int, len(positions))
	for _, p := range positions {
		rank[p.ID] = p.Position
	}
	var slots []int
	var moving []domain.Record
	for i, r := range s.rows {
		if pos, ok := rank[r.ID()]; ok {
			r[domain.FieldSortOrder] = pos
			slots = append(slots, i)
			moving = append(moving, r)
		}
	}
	sort.SliceStable(moving, func(i, j int) bool {
		return rank[moving[i].ID()] < rank[moving[j].ID()]
	})
	for k, slot := range slots {
		s.rows[slot] = moving[k]
	}
	return previous, true
}

// settleOrder reconciles a reorder that failed part-way. Rows in accepted
// keep the position the backend stored; every other row gets its previous
// sort_order back. The reordered rows are then re-sorted by sort_order
// within the slots they held before the reorder.
func (s *Store) settleOrder(gen uint64, previous []domain.Record, positions []domain.Position, accepted map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	current := make(map[string]domain.Record, len(s.rows))
	for _, r := range s.rows {
		current[r.ID()] = r
	}
	rows := make([]domain.Record, 0, len(s.rows))
	for _, prev := range previous {
		r, ok := current[prev.ID()]
		if !ok {
			continue
		}
		if _, keep := accepted[prev.ID()]; !keep {
			if v, had := prev[domain.FieldSortOrder]; had {
				r[domain.FieldSortOrder] = v
			} else {
				delete(r, domain.FieldSortOrder)
			}
		}
		rows = append(rows, r)
		delete(current, prev.ID())
	}
	for _, r := range s.rows {
		if _, left := current[r.ID()]; left {
			rows = append(rows, r)
		}
	}

	moved := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		moved[p.ID] = struct{}{}
	}
	var slots []int
	var group []domain.Record
	for i, r := range rows {
		if _, ok := moved[r.ID()]; ok {
			slots = append(slots, i)
			group = append(group, r)
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		return sortKey(group[i]) < sortKey(group[j])
	})
	for k, slot := range slots {
		rows[slot] = group[k]
	}
	s.rows = rows
}

func sortKey(r domain.Record) int {
	if v, ok := r.SortOrder(); ok {
		return v
	}
	return math.MaxInt
}

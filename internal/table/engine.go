package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"erpcore/pkg/domain"
)

// Observer records the outcome of backend mutations.
type Observer interface {
	ObserveMutation(op string, elapsed time.Duration, err error)
}

type discardObserver struct{}

func (discardObserver) ObserveMutation(string, time.Duration, error) {}

// DeleteReport aggregates the per-id outcomes of DeleteMany.
type DeleteReport struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Rejected  int      `json:"rejected"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

func (r DeleteReport) String() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
}

// ErrPartialDelete is returned when some deletions of a batch failed.
var ErrPartialDelete = errors.New("table: some deletions failed")

// Engine applies mutations to the store before the backend confirms them and
// reconciles afterwards.
//
// Rollback is tracked per (id, field) in a ledger of in-flight writes ordered
// by issue. A failed write restores the value that was current immediately
// before it; if a newer write to the same field is still in flight, the
// restore is handed down to that write instead of touching the display. A
// confirmed write retires itself and every older write, so their late
// failures can no longer clobber it.
type Engine struct {
	store    *Store
	backend  domain.Backend
	pending  *PendingRows
	notify   Notifier
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	seq       uint64
	ledger    map[fieldKey][]*write
	ledgerGen uint64
}

type fieldKey struct {
	id    string
	field string
}

type write struct {
	seq   uint64
	prior priorValue
}

// NewEngine wires an engine to a store, its draft controller and a backend.
func NewEngine(store *Store, pending *PendingRows, backend domain.Backend, notify Notifier, logger *slog.Logger, observer Observer) *Engine {
	if notify == nil {
		notify = discardNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if observer == nil {
		observer = discardObserver{}
	}
	return &Engine{
		store:    store,
		backend:  backend,
		pending:  pending,
		notify:   notify,
		logger:   logger,
		observer: observer,
		ledger:   make(map[fieldKey][]*write),
	}
}

// Update rewrites fields of the row with id immediately, then sends the
// change to the backend. A failure restores the prior values and is
// reported; a success leaves the optimistic values in place until the next
// Replace. Edits to the draft row never reach the backend.
func (e *Engine) Update(ctx context.Context, id string, changes domain.Record) error {
	if id == PendingID {
		for field, value := range changes {
			e.pending.SetField(field, value)
		}
		return nil
	}
	changes = changes.Without(domain.FieldID)
	if len(changes) == 0 {
		return nil
	}

	e.mu.Lock()
	gen := e.store.Generation()
	if gen != e.ledgerGen {
		e.ledger = make(map[fieldKey][]*write)
		e.ledgerGen = gen
	}
	prior, ok := e.store.patch(gen, id, changes)
	if !ok {
		e.mu.Unlock()
		err := domain.ErrNotFound{ID: id}
		e.notify.Notify(noticeFor(err))
		return err
	}
	e.seq++
	seq := e.seq
	for field := range changes {
		k := fieldKey{id: id, field: field}
		e.ledger[k] = append(e.ledger[k], &write{seq: seq, prior: prior[field]})
	}
	e.mu.Unlock()

	start := time.Now()
	err := e.backend.Update(ctx, id, changes.Clone()).Err()
	e.observer.ObserveMutation("update", time.Since(start), err)
	e.settle(gen, id, seq, changes, err)
	if err != nil {
		e.logger.Warn("update rolled back", "id", id, "error", err)
		e.notify.Notify(noticeFor(err))
		return err
	}
	return nil
}

func (e *Engine) settle(gen uint64, id string, seq uint64, changes domain.Record, failed error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.ledgerGen {
		return
	}
	restore := make(map[string]priorValue)
	for field := range changes {
		k := fieldKey{id: id, field: field}
		stack := e.ledger[k]
		at := -1
		for i, w := range stack {
			if w.seq == seq {
				at = i
				break
			}
		}
		if at < 0 {
			continue
		}
		var rest []*write
		if failed == nil {
			rest = append(rest, stack[at+1:]...)
		} else {
			if at == len(stack)-1 {
				restore[field] = stack[at].prior
			} else {
				stack[at+1].prior = stack[at].prior
			}
			rest = append(rest, stack[:at]...)
			rest = append(rest, stack[at+1:]...)
		}
		if len(rest) == 0 {
			delete(e.ledger, k)
		} else {
			e.ledger[k] = rest
		}
	}
	if len(restore) > 0 {
		e.store.restore(gen, id, restore)
	}
}

// InFlight counts fields with unconfirmed writes.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ledgerGen != e.store.Generation() {
		return 0
	}
	return len(e.ledger)
}

// DeleteMany removes the listed rows immediately and deletes them on the
// backend concurrently. The draft row is never bulk-deleted. Rows whose
// deletion fails are put back at their previous position; deletions that
// succeeded stay deleted.
func (e *Engine) DeleteMany(ctx context.Context, ids []string) (DeleteReport, error) {
	var report DeleteReport
	seen := make(map[string]struct{}, len(ids))
	var real []string
	for _, id := range ids {
		if id == PendingID {
			report.Rejected++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		real = append(real, id)
	}
	if report.Rejected > 0 {
		e.notify.Notify(Notice{Level: LevelWarning, Message: MsgDraftNoBulkDel})
	}
	if len(real) == 0 {
		return report, nil
	}

	gen := e.store.Generation()
	taken := e.store.remove(gen, real)

	errs := make([]error, len(real))
	var g errgroup.Group
	for i, id := range real {
		g.Go(func() error {
			start := time.Now()
			errs[i] = e.backend.Delete(ctx, id).Err()
			e.observer.ObserveMutation("delete", time.Since(start), errs[i])
			return nil
		})
	}
	_ = g.Wait()

	back := make(map[string]struct{})
	for i, err := range errs {
		if err != nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, real[i])
			back[real[i]] = struct{}{}
			e.logger.Warn("delete failed", "id", real[i], "error", err)
			continue
		}
		report.Succeeded++
	}
	if len(back) > 0 {
		e.store.reinsert(gen, taken, back)
	}
	e.notify.Notify(bulkDeleteNotice(report))
	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %s", ErrPartialDelete, report)
	}
	return report, nil
}

// Reorder stamps sort_order on the given rows in their given order and sends
// one position update per row, sequentially. It is a no-op when the backend
// cannot reorder. The first failure stops the remaining updates. Rows the
// backend already repositioned keep their new sort_order; the failed row and
// the unsent ones get their previous sort_order back, and the local order
// follows the resulting sort_order values.
func (e *Engine) Reorder(ctx context.Context, ordered []domain.Record) error {
	r, ok := e.backend.(domain.Reorderer)
	if !ok {
		e.logger.Debug("reorder skipped: backend has no reorder capability")
		return nil
	}
	positions := make([]domain.Position, 0, len(ordered))
	for _, rec := range ordered {
		id := rec.ID()
		if id == PendingID || id == "" {
			continue
		}
		positions = append(positions, domain.Position{ID: id, Position: len(positions) + 1})
	}
	if len(positions) == 0 {
		return nil
	}
	gen := e.store.Generation()
	previous, ok := e.store.applyOrder(gen, positions)
	if !ok {
		return nil
	}
	accepted := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		start := time.Now()
		err := r.Reorder(ctx, []domain.Position{p}).Err()
		e.observer.ObserveMutation("reorder", time.Since(start), err)
		if err != nil {
			e.store.settleOrder(gen, previous, positions, accepted)
			e.logger.Warn("reorder aborted", "id", p.ID, "error", err)
			e.notify.Notify(noticeFor(err))
			return err
		}
		accepted[p.ID] = struct{}{}
	}
	return nil
}

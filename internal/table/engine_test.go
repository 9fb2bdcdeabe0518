package table

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"erpcore/pkg/domain"
)

func TestUpdateAppliesOptimistically(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{updateHook: func(string, domain.Record) domain.MutationResult {
		close(entered)
		<-release
		return domain.Succeeded()
	}}
	e, store, rec := newTestEngine(backend, rows("42"))

	done := make(chan error, 1)
	go func() { done <- e.Update(context.Background(), "42", domain.Record{"status": "closed"}) }()
	<-entered
	if got := fieldOf(t, store, "42", "status"); got != "closed" {
		t.Fatalf("optimistic value not shown while in flight: %v", got)
	}
	if e.InFlight() != 1 {
		t.Fatalf("in flight = %d", e.InFlight())
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := fieldOf(t, store, "42", "status"); got != "closed" {
		t.Fatalf("confirmed value lost: %v", got)
	}
	if e.InFlight() != 0 {
		t.Fatalf("ledger not cleared: %d", e.InFlight())
	}
	if len(rec.Notices()) != 0 {
		t.Fatalf("success should be silent, got %v", rec.Notices())
	}
}

func TestUpdateTransientFailureRollsBack(t *testing.T) {
	backend := &fakeBackend{updateHook: func(string, domain.Record) domain.MutationResult {
		return domain.Failed("db timeout")
	}}
	e, store, rec := newTestEngine(backend, rows("42"))

	err := e.Update(context.Background(), "42", domain.Record{"status": "closed"})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := fieldOf(t, store, "42", "status"); got != "open" {
		t.Fatalf("status not rolled back: %v", got)
	}
	last, _ := rec.Last()
	if last.Level != LevelError || last.Message != MsgFailed {
		t.Fatalf("expected generic failure notice, got %+v", last)
	}
}

func TestUpdateDeniedUsesGenericMessage(t *testing.T) {
	backend := &fakeBackend{updateHook: func(string, domain.Record) domain.MutationResult {
		return domain.Failed("permission denied for table orders")
	}}
	e, store, rec := newTestEngine(backend, rows("1"))
	err := e.Update(context.Background(), "1", domain.Record{"memo": "x"})
	if !domain.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if r, _ := store.Get("1"); r.Has("memo") {
		t.Fatalf("field added by failed update must be removed again: %v", r)
	}
	if last, _ := rec.Last(); last.Message != MsgDenied {
		t.Fatalf("notice = %q", last.Message)
	}
}

func TestUpdateUnknownRow(t *testing.T) {
	backend := &fakeBackend{}
	e, _, _ := newTestEngine(backend, rows("1"))
	err := e.Update(context.Background(), "nope", domain.Record{"status": "x"})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(backend.updated) != 0 {
		t.Fatalf("backend called for unknown row")
	}
}

func TestUpdateDraftNeverReachesBackend(t *testing.T) {
	backend := &fakeBackend{}
	e, store, _ := newTestEngine(backend, rows("1"))
	if err := e.pending.Begin(nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := e.Update(context.Background(), PendingID, domain.Record{"name": "draft"}); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	draft, _ := store.Pending()
	if draft["name"] != "draft" {
		t.Fatalf("draft field not set: %v", draft)
	}
	if len(backend.updated) != 0 {
		t.Fatalf("draft edit sent to backend")
	}
}

// sequencedBackend blocks each Update on its own release channel, keyed by
// the status value being written.
func sequencedBackend(results map[any]chan domain.MutationResult, entered chan<- any) *fakeBackend {
	return &fakeBackend{updateHook: func(_ string, changes domain.Record) domain.MutationResult {
		v := changes["status"]
		entered <- v
		return <-results[v]
	}}
}

func TestSameFieldOlderFailureDefersToNewer(t *testing.T) {
	results := map[any]chan domain.MutationResult{
		"v1": make(chan domain.MutationResult),
		"v2": make(chan domain.MutationResult),
	}
	entered := make(chan any, 2)
	e, store, _ := newTestEngine(sequencedBackend(results, entered), []domain.Record{{"id": "1", "status": "v0"}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = e.Update(context.Background(), "1", domain.Record{"status": "v1"}) }()
	<-entered
	wg.Add(1)
	go func() { defer wg.Done(); _ = e.Update(context.Background(), "1", domain.Record{"status": "v2"}) }()
	<-entered

	results["v1"] <- domain.Failed("db timeout")
	waitFor(t, "m1 settled", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.ledger[fieldKey{id: "1", field: "status"}]) == 1
	})
	if got := fieldOf(t, store, "1", "status"); got != "v2" {
		t.Fatalf("older failure clobbered newer write: %v", got)
	}

	results["v2"] <- domain.Failed("db timeout")
	wg.Wait()
	if got := fieldOf(t, store, "1", "status"); got != "v0" {
		t.Fatalf("expected value before both writes, got %v", got)
	}
}

func TestSameFieldNewerSuccessSurvivesOlderFailure(t *testing.T) {
	results := map[any]chan domain.MutationResult{
		"v1": make(chan domain.MutationResult),
		"v2": make(chan domain.MutationResult),
	}
	entered := make(chan any, 2)
	e, store, _ := newTestEngine(sequencedBackend(results, entered), []domain.Record{{"id": "1", "status": "v0"}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e.Update(context.Background(), "1", domain.Record{"status": "v1"}) }()
	<-entered
	go func() { defer wg.Done(); _ = e.Update(context.Background(), "1", domain.Record{"status": "v2"}) }()
	<-entered

	results["v2"] <- domain.Succeeded()
	results["v1"] <- domain.Failed("db timeout")
	wg.Wait()
	if got := fieldOf(t, store, "1", "status"); got != "v2" {
		t.Fatalf("confirmed newer value lost: %v", got)
	}
	if e.InFlight() != 0 {
		t.Fatalf("ledger not empty: %d", e.InFlight())
	}
}

func TestDifferentFieldsRollBackIndependently(t *testing.T) {
	backend := &fakeBackend{updateHook: func(_ string, changes domain.Record) domain.MutationResult {
		if _, ok := changes["status"]; ok {
			return domain.Failed("db timeout")
		}
		return domain.Succeeded()
	}}
	e, store, _ := newTestEngine(backend, rows("1"))
	_ = e.Update(context.Background(), "1", domain.Record{"name": "renamed"})
	_ = e.Update(context.Background(), "1", domain.Record{"status": "closed"})
	r, _ := store.Get("1")
	if r["name"] != "renamed" || r["status"] != "open" {
		t.Fatalf("unexpected row after mixed outcomes: %v", r)
	}
}

func TestRollbackDiscardedAfterReplace(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{updateHook: func(string, domain.Record) domain.MutationResult {
		close(entered)
		<-release
		return domain.Failed("db timeout")
	}}
	e, store, _ := newTestEngine(backend, rows("1"))
	done := make(chan error, 1)
	go func() { done <- e.Update(context.Background(), "1", domain.Record{"status": "closed"}) }()
	<-entered
	store.Replace([]domain.Record{{"id": "1", "status": "server"}})
	close(release)
	<-done
	if got := fieldOf(t, store, "1", "status"); got != "server" {
		t.Fatalf("stale rollback applied over fresh snapshot: %v", got)
	}
}

func TestDeleteManyPartialFailure(t *testing.T) {
	backend := &fakeBackend{deleteHook: func(id string) domain.MutationResult {
		if id == "2" {
			return domain.Failed("db timeout")
		}
		return domain.Succeeded()
	}}
	e, store, rec := newTestEngine(backend, rows("1", "2", "3", "4"))

	report, err := e.DeleteMany(context.Background(), []string{"1", "2", "3"})
	if !errors.Is(err, ErrPartialDelete) {
		t.Fatalf("expected ErrPartialDelete, got %v", err)
	}
	if report.String() != "2 succeeded, 1 failed" {
		t.Fatalf("report = %q", report)
	}
	if !reflect.DeepEqual(report.FailedIDs, []string{"2"}) {
		t.Fatalf("failed ids = %v", report.FailedIDs)
	}
	if got := ids(store.Displayed()); !reflect.DeepEqual(got, []string{"2", "4"}) {
		t.Fatalf("displayed = %v", got)
	}
	last, _ := rec.Last()
	if last.Message != "삭제 완료 2건, 실패 1건" {
		t.Fatalf("notice = %q", last.Message)
	}
}

func TestDeleteManyRejectsDraft(t *testing.T) {
	backend := &fakeBackend{}
	e, store, rec := newTestEngine(backend, rows("1", "2"))
	_ = e.pending.Begin(nil)

	report, err := e.DeleteMany(context.Background(), []string{PendingID, "1", "1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if report.Rejected != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok := store.Pending(); !ok {
		t.Fatalf("draft removed by bulk delete")
	}
	if !reflect.DeepEqual(backend.deleted, []string{"1"}) {
		t.Fatalf("deleted = %v", backend.deleted)
	}
	notices := rec.Notices()
	if len(notices) == 0 || notices[0].Message != MsgDraftNoBulkDel {
		t.Fatalf("expected draft warning first, got %v", notices)
	}
}

func TestDeleteManyRemovesBeforeBackendAnswers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{deleteHook: func(string) domain.MutationResult {
		close(entered)
		<-release
		return domain.Succeeded()
	}}
	e, store, _ := newTestEngine(backend, rows("1", "2"))
	done := make(chan struct{})
	go func() {
		_, _ = e.DeleteMany(context.Background(), []string{"1"})
		close(done)
	}()
	<-entered
	if _, ok := store.Get("1"); ok {
		t.Fatalf("row still shown while delete in flight")
	}
	close(release)
	<-done
}

func TestReorderWithoutCapabilityIsNoop(t *testing.T) {
	e, store, _ := newTestEngine(&fakeBackend{}, rows("a", "b"))
	if err := e.Reorder(context.Background(), rows("b", "a")); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := ids(store.Confirmed()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("order changed without capability: %v", got)
	}
}

func TestReorderStampsPositions(t *testing.T) {
	backend := reorderBackend{&fakeBackend{}}
	e, store, _ := newTestEngine(backend, rows("a", "b", "c"))
	ordered := append([]domain.Record{{"id": PendingID}}, rows("c", "a", "b")...)
	if err := e.Reorder(context.Background(), ordered); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := []domain.Position{{ID: "c", Position: 1}, {ID: "a", Position: 2}, {ID: "b", Position: 3}}
	if !reflect.DeepEqual(backend.reorders, want) {
		t.Fatalf("positions = %v", backend.reorders)
	}
	if got := ids(store.Confirmed()); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("local order = %v", got)
	}
	if so, _ := store.Confirmed()[0].SortOrder(); so != 1 {
		t.Fatalf("sort_order not stamped: %d", so)
	}
}

func TestReorderFailureKeepsAcceptedPositions(t *testing.T) {
	calls := 0
	backend := reorderBackend{&fakeBackend{}}
	backend.reorderHook = func([]domain.Position) domain.MutationResult {
		calls++
		if calls == 2 {
			return domain.Failed("db timeout")
		}
		return domain.Succeeded()
	}
	snapshot := []domain.Record{
		{"id": "a", "sort_order": 1},
		{"id": "b", "sort_order": 2},
		{"id": "c", "sort_order": 3},
		{"id": "d", "sort_order": 4},
	}
	e, store, rec := newTestEngine(backend, snapshot)
	err := e.Reorder(context.Background(), []domain.Record{{"id": "c"}, {"id": "b"}, {"id": "a"}})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("remaining updates not aborted, calls=%d", calls)
	}
	sent := []domain.Position{{ID: "c", Position: 1}, {ID: "b", Position: 2}}
	if !reflect.DeepEqual(backend.reorders, sent) {
		t.Fatalf("sent = %v", backend.reorders)
	}

	got := store.Confirmed()
	if !reflect.DeepEqual(ids(got), []string{"a", "c", "b", "d"}) {
		t.Fatalf("order = %v", ids(got))
	}
	want := map[string]int{"a": 1, "b": 2, "c": 1, "d": 4}
	for _, r := range got {
		if so, _ := r.SortOrder(); so != want[r.ID()] {
			t.Fatalf("%s sort_order = %d, want %d", r.ID(), so, want[r.ID()])
		}
	}
	if last, _ := rec.Last(); last.Message != MsgFailed {
		t.Fatalf("notice = %q", last.Message)
	}
}

func TestReorderFirstFailureRestoresEverything(t *testing.T) {
	backend := reorderBackend{&fakeBackend{}}
	backend.reorderHook = func([]domain.Position) domain.MutationResult { return domain.Failed("db timeout") }
	e, store, _ := newTestEngine(backend, []domain.Record{{"id": "a", "sort_order": 1}, {"id": "b", "sort_order": 2}})
	if err := e.Reorder(context.Background(), []domain.Record{{"id": "b"}, {"id": "a"}}); err == nil {
		t.Fatalf("expected failure")
	}
	got := store.Confirmed()
	if !reflect.DeepEqual(ids(got), []string{"a", "b"}) {
		t.Fatalf("order = %v", ids(got))
	}
	if so, _ := got[1].SortOrder(); so != 2 {
		t.Fatalf("b sort_order = %d", so)
	}
}

type countingObserver struct {
	mu  sync.Mutex
	ops map[string]int
}

func (o *countingObserver) ObserveMutation(op string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = make(map[string]int)
	}
	o.ops[op]++
}

func TestTableLifecycle(t *testing.T) {
	spec, _ := domain.LookupTable(domain.TableCompanies)
	backend := &fakeBackend{rows: []domain.Record{{"id": "c1", "name": "기존", "business_number": "123-45-67891"}}}
	obs := &countingObserver{}
	rec := &Recorder{}
	tbl := New(spec, backend, Options{Notifier: rec, Observer: obs, Keys: NewKeyBus()})

	if err := tbl.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tbl.Store.Len() != 1 {
		t.Fatalf("rows = %d", tbl.Store.Len())
	}
	if err := tbl.Update(context.Background(), "c1", domain.Record{"no_such_field": 1}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
	if err := tbl.Begin(domain.Record{"name": "신규"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tbl.Commit(context.Background()); !domain.IsValidation(err) {
		t.Fatalf("expected missing business number to fail validation, got %v", err)
	}
	_ = tbl.Update(context.Background(), PendingID, domain.Record{"business_number": "220-81-62517"})
	if _, err := tbl.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tbl.Update(context.Background(), "c1", domain.Record{"name": "변경"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if obs.ops["update"] != 1 {
		t.Fatalf("observer ops = %v", obs.ops)
	}
	if err := tbl.Reorder(context.Background(), tbl.Store.Confirmed()); err != nil {
		t.Fatalf("reorder on non-reorderable table: %v", err)
	}
	tbl.Close()
}

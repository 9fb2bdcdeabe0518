// Package export renders table snapshots to CSV in the background and stores
// them in the blob store, the ERP's spreadsheet download path.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"erpcore/internal/blob"
	"erpcore/internal/core"
	"erpcore/pkg/domain"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultQueueSize bounds pending exports when no size is configured.
const DefaultQueueSize = 16

// ErrQueueFull is returned when the worker cannot accept more requests.
var ErrQueueFull = errors.New("export queue full")

// Artifact describes a stored CSV file.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its result.
type Record struct {
	ID          string     `json:"id"`
	Table       string     `json:"table"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the export reached a terminal status.
func (r Record) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Source lists table rows; *core.Service satisfies it.
type Source interface {
	List(ctx context.Context, table string) ([]domain.Record, error)
}

// Scheduler queues exports and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, table string) (Record, error)
	Get(id string) (Record, bool)
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize sets the number of exports that may wait for the worker.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithLogger routes worker lifecycle messages to logger.
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker executes exports one at a time on its own goroutine.
type Worker struct {
	source    Source
	store     blob.Store
	logger    core.Logger
	now       func() time.Time
	queueSize int

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	table domain.TableSpec
	actor domain.Actor
}

var _ Scheduler = (*Worker)(nil)

// NewWorker constructs an export worker. Call Start before enqueueing.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:    source,
		store:     store,
		logger:    discardLogger{},
		now:       func() time.Time { return time.Now().UTC() },
		queueSize: DefaultQueueSize,
		jobs:      make(map[string]*Record),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan task, w.queueSize)
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the running export.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an export of table on behalf of the actor in ctx. The
// actor needs read access to the table's module; the same actor is used when
// the rows are listed.
func (w *Worker) Enqueue(ctx context.Context, table string) (Record, error) {
	if w.store == nil {
		return Record{}, errors.New("export store not configured")
	}
	spec, ok := domain.LookupTable(table)
	if !ok {
		return Record{}, domain.ErrNotFound{Table: "table", ID: table}
	}
	if msg, ok := domain.Authorize(ctx, spec.Module, domain.PermRead); !ok {
		return Record{}, &domain.AuthorizationError{Message: msg}
	}
	actor, _ := domain.ActorFrom(ctx)

	id := uuid.NewString()
	now := w.now()
	record := Record{
		ID:          id,
		Table:       table,
		Status:      StatusQueued,
		RequestedBy: actor.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: id, table: spec, actor: actor}:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	w.logger.Info("export queued", "id", id, "table", table, "actor", actor.Name)
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.update(t.id, func(r *Record) { r.Status = StatusRunning })

	ctx := domain.WithActor(w.ctx, t.actor)
	rows, err := w.source.List(ctx, t.table.Name)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("list %s: %v", t.table.Name, err))
		return
	}
	payload, err := Render(t.table, rows)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("render csv: %v", err))
		return
	}
	info, err := w.store.Put(ctx, blob.ExportKey(t.id), bytes.NewReader(payload), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{blob.MetaTable: t.table.Name},
	})
	if err != nil {
		w.fail(t.id, fmt.Sprintf("store export: %v", err))
		return
	}
	artifact := &Artifact{
		Key:         info.Key,
		ContentType: ContentType,
		SizeBytes:   info.Size,
		Rows:        len(rows),
		CreatedAt:   w.now(),
	}
	if url, err := w.store.PresignURL(ctx, info.Key, blob.SignedURLOptions{}); err == nil {
		artifact.URL = url
	} else if !errors.Is(err, blob.ErrUnsupported) {
		w.logger.Warn("presign export", "id", t.id, "error", err)
	}

	now := w.now()
	w.update(t.id, func(r *Record) {
		r.Status = StatusSucceeded
		r.Error = ""
		r.Artifact = artifact
		r.CompletedAt = &now
	})
	w.logger.Info("export finished", "id", t.id, "table", t.table.Name, "rows", len(rows), "bytes", info.Size)
}

func (w *Worker) fail(id, reason string) {
	now := w.now()
	w.update(id, func(r *Record) {
		r.Status = StatusFailed
		r.Error = reason
		r.CompletedAt = &now
	})
	w.logger.Warn("export failed", "id", id, "error", reason)
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		fn(record)
		record.UpdatedAt = w.now()
	}
}

func (r Record) copy() Record {
	dup := r
	if r.Artifact != nil {
		a := *r.Artifact
		dup.Artifact = &a
	}
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		dup.CompletedAt = &ts
	}
	return dup
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// ContentType is stamped on stored exports.
const ContentType = "text/csv; charset=utf-8"

// utf8BOM lets spreadsheet applications detect UTF-8 for Hangul headers.
const utf8BOM = "\ufeff"

// Render writes rows as CSV: a BOM, a header of column labels, then one line
// per row in spec column order, with id and timestamps framing the columns.
func Render(spec domain.TableSpec, rows []domain.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(utf8BOM)
	writer := csv.NewWriter(buf)

	headers := []string{"ID"}
	names := []string{domain.FieldID}
	for _, f := range spec.Fields {
		label := f.Label
		if label == "" {
			label = f.Name
		}
		headers = append(headers, label)
		names = append(names, f.Name)
	}
	headers = append(headers, "등록일시", "수정일시")
	names = append(names, domain.FieldCreatedAt, domain.FieldUpdatedAt)
	if err := writer.Write(headers); err != nil {
		return nil, err
	}

	for _, row := range rows {
		line := make([]string, len(names))
		for i, name := range names {
			if name == domain.FieldAttachments {
				line[i] = attachmentNames(row)
				continue
			}
			line[i] = formatValue(row[name])
		}
		if err := writer.Write(line); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attachmentNames(row domain.Record) string {
	list := domain.AttachmentsOf(row)
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.Name
	}
	return strings.Join(names, "; ")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return domain.Record{"v": v}.Text("v")
	}
}

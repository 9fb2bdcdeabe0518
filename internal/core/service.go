package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"erpcore/internal/blob"
	"erpcore/internal/celledit"
	"erpcore/internal/hierarchy"
	"erpcore/internal/table"
	"erpcore/pkg/domain"
)

// ErrReorderUnsupported is returned when a table's backend cannot persist a
// row order.
var ErrReorderUnsupported = errors.New("reorder not supported")

// Service exposes the catalog tables over a backend set, plus the order tree,
// business number checks and order attachments.
type Service struct {
	tables  domain.Tables
	blobs   blob.Store
	logger  Logger
	metrics MetricsRecorder
	clock   Clock
	newID   func() string

	attachMu sync.Mutex
}

// NewService constructs a service over tables. blobs may be nil when
// attachments are not used.
func NewService(tables domain.Tables, blobs blob.Store, opts ...ServiceOption) *Service {
	s := &Service{
		tables:  tables,
		blobs:   blobs,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		clock:   ClockFunc(nil),
		newID:   defaultIDGenerator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Blobs returns the attachment store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Logger returns the service logger.
func (s *Service) Logger() Logger { return s.logger }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, s.clock.Now().Sub(start))
	if err != nil {
		s.logger.Debug("operation failed", "op", op, "error", err)
	}
}

// Backend resolves a catalog table and its backend.
func (s *Service) Backend(name string) (domain.TableSpec, domain.Backend, error) {
	spec, ok := domain.LookupTable(name)
	if !ok {
		return domain.TableSpec{}, nil, domain.ErrNotFound{Table: "table", ID: name}
	}
	b, err := s.tables.Table(name)
	if err != nil {
		return domain.TableSpec{}, nil, err
	}
	return spec, b, nil
}

// OpenTable builds an engine-backed table controller and loads its first
// snapshot.
func (s *Service) OpenTable(ctx context.Context, name string, notify table.Notifier) (*table.Table, error) {
	spec, b, err := s.Backend(name)
	if err != nil {
		return nil, err
	}
	opts := table.Options{Notifier: notify, Logger: slogOf(s.logger)}
	if obs, ok := s.metrics.(table.Observer); ok {
		opts.Observer = obs
	}
	t := table.New(spec, b, opts)
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns the rows of a table in its default order.
func (s *Service) List(ctx context.Context, name string) (rows []domain.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, "list", start, err) }(s.clock.Now())
	spec, b, err := s.Backend(name)
	if err != nil {
		return nil, err
	}
	return b.List(ctx, spec.OrderBy)
}

// Get returns one row.
func (s *Service) Get(ctx context.Context, name, id string) (domain.Record, error) {
	_, b, err := s.Backend(name)
	if err != nil {
		return nil, err
	}
	return b.GetByID(ctx, id)
}

// Create canonicalizes fields against the table spec and inserts a row.
func (s *Service) Create(ctx context.Context, name string, fields domain.Record) (created domain.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, "create", start, err) }(s.clock.Now())
	spec, b, err := s.Backend(name)
	if err != nil {
		return nil, err
	}
	clean, err := celledit.CanonicalizeRecord(spec, fields.Without(domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt), true)
	if err != nil {
		return nil, err
	}
	res := b.Create(ctx, clean)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Update canonicalizes and applies changes to row id. Read-only columns are
// rejected.
func (s *Service) Update(ctx context.Context, name, id string, changes domain.Record) (err error) {
	defer func(start time.Time) { s.observe(ctx, "update", start, err) }(s.clock.Now())
	spec, b, err := s.Backend(name)
	if err != nil {
		return err
	}
	clean, err := celledit.CanonicalizeRecord(spec, changes, false)
	if err != nil {
		return err
	}
	if _, err := b.GetByID(ctx, id); err != nil {
		return err
	}
	if len(clean) == 0 {
		return nil
	}
	return b.Update(ctx, id, clean).Err()
}

// Delete removes row id. A missing row is reported as domain.ErrNotFound.
func (s *Service) Delete(ctx context.Context, name, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete", start, err) }(s.clock.Now())
	_, b, err := s.Backend(name)
	if err != nil {
		return err
	}
	if _, err := b.GetByID(ctx, id); err != nil {
		return err
	}
	return b.Delete(ctx, id).Err()
}

// Reorder persists positions for a reorderable table.
func (s *Service) Reorder(ctx context.Context, name string, items []domain.Position) (err error) {
	defer func(start time.Time) { s.observe(ctx, "reorder", start, err) }(s.clock.Now())
	spec, b, err := s.Backend(name)
	if err != nil {
		return err
	}
	r, ok := b.(domain.Reorderer)
	if !spec.Reorderable || !ok {
		return fmt.Errorf("%s: %w", name, ErrReorderUnsupported)
	}
	return r.Reorder(ctx, items).Err()
}

// OrderTree materializes the order hierarchy with totals and labels.
func (s *Service) OrderTree(ctx context.Context) ([]hierarchy.Summary, error) {
	orders, err := s.List(ctx, domain.TableOrders)
	if err != nil {
		return nil, err
	}
	return hierarchy.Summarize(orders), nil
}

// CheckBusinessNumber validates raw and checks it is unused by any company
// other than excludeID.
func (s *Service) CheckBusinessNumber(ctx context.Context, raw, excludeID string) (celledit.BRNState, error) {
	_, b, err := s.Backend(domain.TableCompanies)
	if err != nil {
		return celledit.BRNState{}, err
	}
	checker, _ := b.(domain.UniquenessChecker)
	return celledit.CheckBusinessNumber(ctx, checker, raw, excludeID), nil
}

// BusinessNumberChecker returns the companies uniqueness checker bound to the
// actor in ctx. Debounced checks run on timer goroutines with a fresh
// context, so the actor has to travel with the checker.
func (s *Service) BusinessNumberChecker(ctx context.Context) (domain.UniquenessChecker, error) {
	_, b, err := s.Backend(domain.TableCompanies)
	if err != nil {
		return nil, err
	}
	checker, ok := b.(domain.UniquenessChecker)
	if !ok {
		return nil, nil
	}
	actor, ok := domain.ActorFrom(ctx)
	if !ok {
		return checker, nil
	}
	return actorChecker{inner: checker, actor: actor}, nil
}

type actorChecker struct {
	inner domain.UniquenessChecker
	actor domain.Actor
}

func (c actorChecker) IsUnique(ctx context.Context, field, value, excludeID string) (bool, error) {
	return c.inner.IsUnique(domain.WithActor(ctx, c.actor), field, value, excludeID)
}

// Attach stores a file for an order and appends it to the order's
// attachments column. The object is removed again if the row update fails.
func (s *Service) Attach(ctx context.Context, orderID, name, contentType string, r io.Reader) (att domain.Attachment, err error) {
	defer func(start time.Time) { s.observe(ctx, "attach", start, err) }(s.clock.Now())
	if s.blobs == nil {
		return domain.Attachment{}, errors.New("attachment store not configured")
	}
	if strings.TrimSpace(name) == "" {
		return domain.Attachment{}, &domain.ValidationError{Fields: []string{"file"}, Message: domain.MsgRequired}
	}
	_, b, err := s.Backend(domain.TableOrders)
	if err != nil {
		return domain.Attachment{}, err
	}
	if _, err := b.GetByID(ctx, orderID); err != nil {
		return domain.Attachment{}, err
	}
	key := blob.AttachmentKey(domain.TableOrders, orderID, s.newID(), name)
	info, err := s.blobs.Put(ctx, key, r, blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			blob.MetaTable:    domain.TableOrders,
			blob.MetaRecordID: orderID,
		},
	})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	att = domain.Attachment{
		Key:         info.Key,
		Name:        name,
		ContentType: contentType,
		Size:        info.Size,
		UploadedAt:  s.clock.Now(),
	}
	if err := s.appendAttachment(ctx, b, orderID, att); err != nil {
		if _, derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("orphaned attachment", "key", key, "error", derr)
		}
		return domain.Attachment{}, err
	}
	return att, nil
}

// appendAttachment records att on the order. Backends without an atomic
// append fall back to read-modify-write under the service's attach lock.
func (s *Service) appendAttachment(ctx context.Context, b domain.Backend, orderID string, att domain.Attachment) error {
	if a, ok := b.(domain.AttachmentAppender); ok {
		return a.AppendAttachment(ctx, orderID, att).Err()
	}
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	order, err := b.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	list := append(domain.AttachmentsOf(order), att)
	return b.Update(ctx, orderID, domain.Record{domain.FieldAttachments: list}).Err()
}

// OpenAttachment returns a reader for one attachment of an order. The key
// must be listed on the order, so read access to the order governs access to
// the file.
func (s *Service) OpenAttachment(ctx context.Context, orderID, key string) (blob.Info, io.ReadCloser, error) {
	if s.blobs == nil {
		return blob.Info{}, nil, errors.New("attachment store not configured")
	}
	order, err := s.Get(ctx, domain.TableOrders, orderID)
	if err != nil {
		return blob.Info{}, nil, err
	}
	for _, a := range domain.AttachmentsOf(order) {
		if a.Key == key {
			return s.blobs.Get(ctx, key)
		}
	}
	return blob.Info{}, nil, domain.ErrNotFound{Table: "attachment", ID: key}
}

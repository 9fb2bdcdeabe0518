package table

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"erpcore/pkg/domain"
)

// PendingID is the reserved id of the draft row. It never collides with a
// server-issued id.
const PendingID = domain.ReservedID

const requiredMissing = "required field missing"

// Errors returned by the pending-row controller.
var (
	ErrPendingExists  = errors.New("table: a draft row already exists")
	ErrNoPendingRow   = errors.New("table: no draft row")
	ErrCommitInFlight = errors.New("table: draft commit already in flight")
)

// DraftState is the lifecycle stage of the draft row.
type DraftState int

// Draft lifecycle: Empty -> Composing -> Committing -> Empty|Composing.
const (
	DraftEmpty DraftState = iota
	DraftComposing
	DraftCommitting
)

func (s DraftState) String() string {
	switch s {
	case DraftComposing:
		return "composing"
	case DraftCommitting:
		return "committing"
	default:
		return "empty"
	}
}

// CreateFunc persists a new record.
type CreateFunc func(ctx context.Context, fields domain.Record) domain.CreateResult

// PrepareFunc converts draft fields into the form sent to the backend.
type PrepareFunc func(fields domain.Record) (domain.Record, error)

// PendingRows manages the single draft row of a store.
type PendingRows struct {
	store  *Store
	keys   *KeyBus
	notify Notifier
	logger *slog.Logger

	mu          sync.Mutex
	committing  bool
	prepare     PrepareFunc
	unsubscribe func()
}

// NewPendingRows binds a controller to store. keys may be nil when the view
// has no keyboard.
func NewPendingRows(store *Store, keys *KeyBus, notify Notifier, logger *slog.Logger) *PendingRows {
	if notify == nil {
		notify = discardNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PendingRows{store: store, keys: keys, notify: notify, logger: logger}
}

// SetPrepare installs the conversion applied to draft fields before they are
// handed to create. A failing conversion keeps the draft.
func (p *PendingRows) SetPrepare(fn PrepareFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepare = fn
}

// State reports the draft lifecycle stage.
func (p *PendingRows) State() DraftState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committing {
		return DraftCommitting
	}
	if _, ok := p.store.Pending(); ok {
		return DraftComposing
	}
	return DraftEmpty
}

// Begin creates the draft row seeded with defaults. It warns and returns
// ErrPendingExists when a draft already exists, leaving it untouched.
func (p *PendingRows) Begin(defaults domain.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	draft := defaults.Clone()
	if draft == nil {
		draft = domain.Record{}
	}
	draft[domain.FieldID] = PendingID
	if !p.store.setPending(draft) {
		p.notify.Notify(Notice{Level: LevelWarning, Message: MsgPendingExists})
		return ErrPendingExists
	}
	if p.keys != nil {
		p.unsubscribe = p.keys.Subscribe(KeyEscape, func() { p.Cancel() })
	}
	p.logger.Debug("draft row started")
	return nil
}

// SetField edits the draft row. It reports false when there is no draft.
func (p *PendingRows) SetField(name string, value any) bool {
	if name == domain.FieldID {
		return false
	}
	return p.store.setPendingField(name, value)
}

// Cancel discards the draft row. A draft whose commit is in flight cannot be
// cancelled; the dispatched create runs to completion.
func (p *PendingRows) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committing {
		return false
	}
	p.release()
	return p.store.clearPending()
}

// Commit validates the draft, strips system columns and hands it to create.
// On success the draft is removed and the persisted row, when returned, is
// shown at the head of the table. On failure the draft stays for correction.
func (p *PendingRows) Commit(ctx context.Context, required []string, create CreateFunc) (domain.Record, error) {
	p.mu.Lock()
	if p.committing {
		p.mu.Unlock()
		return nil, ErrCommitInFlight
	}
	draft, ok := p.store.Pending()
	if !ok {
		p.mu.Unlock()
		return nil, ErrNoPendingRow
	}
	if missing := missingFields(draft, required); len(missing) > 0 {
		p.mu.Unlock()
		err := &domain.ValidationError{Fields: missing, Message: requiredMissing}
		p.notify.Notify(noticeFor(err))
		return nil, err
	}
	fields := draft.Without(domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt)
	if p.prepare != nil {
		prepared, err := p.prepare(fields)
		if err != nil {
			p.mu.Unlock()
			p.notify.Notify(noticeFor(err))
			return nil, err
		}
		fields = prepared
	}
	p.committing = true
	p.mu.Unlock()

	settled := false
	defer func() {
		if !settled {
			p.mu.Lock()
			p.committing = false
			p.mu.Unlock()
		}
	}()
	res := create(ctx, fields)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.committing = false
	settled = true
	if err := res.Err(); err != nil {
		p.logger.Warn("draft commit failed", "error", err)
		p.notify.Notify(noticeFor(err))
		return nil, err
	}
	p.release()
	p.store.clearPending()
	if res.Data != nil {
		p.store.prepend(res.Data)
	}
	p.notify.Notify(Notice{Level: LevelSuccess, Message: MsgSaved})
	return res.Data.Clone(), nil
}

// release removes the Escape listener; callers hold p.mu.
func (p *PendingRows) release() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func missingFields(r domain.Record, required []string) []string {
	var missing []string
	for _, name := range required {
		if !r.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

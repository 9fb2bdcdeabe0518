// Package celledit implements the per-cell inline edit session: entry on
// double-click or tap, keystroke handling, type-specific canonicalization,
// and commit through the owning row's update path.
package celledit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"erpcore/pkg/domain"
)

// State is the lifecycle stage of a cell.
type State int

// Cell states: Viewing -> Editing -> (Saving -> Viewing) | Viewing.
const (
	Viewing State = iota
	Editing
	Saving
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	default:
		return "viewing"
	}
}

// Trigger is the pointer gesture that asks for edit mode.
type Trigger int

// Edit triggers.
const (
	DoubleClick Trigger = iota
	Tap
)

// TouchBreakpoint is the viewport width below which the device is treated
// as touch-first.
const TouchBreakpoint = 768

// IsTouch applies the viewport width heuristic.
func IsTouch(viewportWidth int) bool {
	return viewportWidth > 0 && viewportWidth < TouchBreakpoint
}

// Key is a keystroke the session reacts to.
type Key int

// Keys handled while editing.
const (
	KeyEnter Key = iota
	KeyCtrlEnter
	KeyEscape
	KeyTab
	KeyShiftTab
)

// CommitFunc persists a canonical cell value.
type CommitFunc func(ctx context.Context, cell CellRef, value any) error

// Updater is the row update path a cell commits through.
type Updater interface {
	Update(ctx context.Context, id string, changes domain.Record) error
}

// UpdateVia commits cells through u, one field per call.
func UpdateVia(u Updater) CommitFunc {
	return func(ctx context.Context, cell CellRef, value any) error {
		return u.Update(ctx, cell.Row, domain.Record{cell.Field: value})
	}
}

// Options configures a Session.
type Options struct {
	Commit    CommitFunc
	Navigator *Navigator
	// Checker enables the debounced uniqueness check on business number
	// cells.
	Checker  domain.UniquenessChecker
	Debounce time.Duration
	Logger   *slog.Logger
}

// Outcome reports what a keystroke or commit did.
type Outcome struct {
	Handled   bool
	Committed bool
	// Focus is the cell that should receive focus next; zero when focus
	// stays put.
	Focus CellRef
	Err   error
}

// Session is the edit state of one cell.
type Session struct {
	cell   CellRef
	field  domain.FieldSpec
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	committed any
	value     any
	brn       *BusinessNumberInput
}

// New binds a session to a cell whose last committed value is committed.
func New(cell CellRef, field domain.FieldSpec, committed any, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		cell:      cell,
		field:     field,
		opts:      opts,
		logger:    logger.With("row", cell.Row, "field", cell.Field),
		committed: committed,
		value:     committed,
	}
}

// Cell returns the address of the session's cell.
func (s *Session) Cell() CellRef { return s.cell }

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Value returns the in-progress value.
func (s *Session) Value() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Committed returns the last committed value.
func (s *Session) Committed() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Dirty reports whether the in-progress value differs from the committed one.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !sameValue(s.value, s.committed)
}

// Reset replaces the committed value, e.g. after a table refresh. It is
// ignored while editing or saving.
func (s *Session) Reset(committed any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Viewing {
		return
	}
	s.committed = committed
	s.value = committed
}

// Activate enters edit mode. Desktop viewports need a double-click; touch
// viewports also accept a single tap. Read-only cells never activate.
func (s *Session) Activate(trigger Trigger, viewportWidth int) bool {
	if !s.field.Editable() {
		return false
	}
	if trigger == Tap && !IsTouch(viewportWidth) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Viewing {
		return false
	}
	s.state = Editing
	s.value = s.committed
	if s.field.Kind == domain.KindBusinessNumber && s.opts.Checker != nil {
		s.brn = NewBusinessNumberInput(s.opts.Checker, s.cell.Row, s.opts.Debounce, nil)
	}
	return true
}

// Input replaces the in-progress value with typed input, formatting dates
// and business numbers as they are typed. It is rejected unless editing.
func (s *Session) Input(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Editing {
		return false
	}
	switch s.field.Kind {
	case domain.KindDate:
		s.value = FormatDateInput(text(v))
	case domain.KindBusinessNumber:
		if s.brn != nil {
			s.value = s.brn.Set(text(v)).Value
		} else {
			s.value = FormatBRN(text(v))
		}
	default:
		s.value = v
	}
	return true
}

// BusinessNumber returns the uniqueness check state of a business number
// cell.
func (s *Session) BusinessNumber() (BRNState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brn == nil {
		return BRNState{}, false
	}
	return s.brn.State(), true
}

// HandleKey reacts to a keystroke while editing. Enter commits single-line
// kinds; note cells keep Enter as a newline and commit on Ctrl+Enter.
// Escape reverts. Tab and Shift+Tab commit if dirty and, once the commit
// has succeeded, name the next or previous editable cell.
func (s *Session) HandleKey(ctx context.Context, key Key) Outcome {
	if s.State() != Editing {
		return Outcome{}
	}
	switch key {
	case KeyEscape:
		s.Cancel()
		return Outcome{Handled: true}
	case KeyEnter:
		if s.field.Kind == domain.KindNote {
			return Outcome{}
		}
		return s.Commit(ctx)
	case KeyCtrlEnter:
		return s.Commit(ctx)
	case KeyTab, KeyShiftTab:
		out := s.Commit(ctx)
		if out.Err != nil || s.opts.Navigator == nil {
			return out
		}
		var next CellRef
		var ok bool
		if key == KeyTab {
			next, ok = s.opts.Navigator.Next(s.cell)
		} else {
			next, ok = s.opts.Navigator.Prev(s.cell)
		}
		if ok {
			out.Focus = next
		}
		out.Handled = true
		return out
	}
	return Outcome{}
}

// Cancel reverts the in-progress value and leaves edit mode. It has no
// effect while saving.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Editing {
		return
	}
	s.value = s.committed
	s.state = Viewing
	s.closeBRN()
}

// Commit canonicalizes the in-progress value and, if it changed, sends it
// through the commit path. Malformed values revert to the last committed
// value without reaching the backend, except business numbers, which stay
// in the input flagged for correction. A business number whose uniqueness
// check is still debouncing is checked before the commit proceeds. A
// rejected commit reverts.
func (s *Session) Commit(ctx context.Context) Outcome {
	s.mu.Lock()
	brn := s.brn
	s.mu.Unlock()
	if brn != nil {
		brn.Flush(ctx)
	}

	s.mu.Lock()
	if s.state != Editing {
		s.mu.Unlock()
		return Outcome{}
	}
	canonical, err := s.canonicalize(s.value)
	if err != nil {
		if s.field.Kind != domain.KindBusinessNumber {
			s.value = s.committed
			s.state = Viewing
			s.closeBRN()
		}
		s.mu.Unlock()
		return Outcome{Handled: true, Err: err}
	}
	if sameValue(canonical, s.committed) {
		s.value = s.committed
		s.state = Viewing
		s.closeBRN()
		s.mu.Unlock()
		return Outcome{Handled: true}
	}
	s.state = Saving
	s.value = canonical
	s.mu.Unlock()

	if s.opts.Commit != nil {
		err = s.opts.Commit(ctx, s.cell, canonical)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Viewing
	s.closeBRN()
	if err != nil {
		s.logger.Debug("cell commit rejected", "error", err)
		s.value = s.committed
		return Outcome{Handled: true, Err: err}
	}
	s.committed = canonical
	return Outcome{Handled: true, Committed: true}
}

func (s *Session) closeBRN() {
	if s.brn != nil {
		s.brn.Close()
		s.brn = nil
	}
}

func (s *Session) canonicalize(v any) (any, error) {
	out, err := Canonicalize(s.field, v)
	if err != nil {
		return nil, err
	}
	if s.field.Kind == domain.KindBusinessNumber && out != nil && s.brn != nil {
		switch s.brn.State().Status {
		case BRNDuplicate:
			return nil, invalid(s.field, "duplicate business number")
		case BRNChecking:
			return nil, invalid(s.field, "business number check pending")
		}
	}
	return out, nil
}

func invalid(field domain.FieldSpec, msg string) error {
	return &domain.ValidationError{Fields: []string{field.Name}, Message: msg}
}

// Canonicalize converts a raw cell value into the stored form for field:
// dates become YYYY-MM-DD, numbers float64, business numbers XXX-XX-XXXXX and
// text NFC. A blank value is nil, or a validation error when the column is
// required.
func Canonicalize(field domain.FieldSpec, v any) (any, error) {
	switch field.Kind {
	case domain.KindDate:
		d, err := ParseDate(text(v))
		if err != nil {
			return nil, invalid(field, err.Error())
		}
		if d == "" {
			return requireEmpty(field)
		}
		return d, nil
	case domain.KindNumber:
		raw := strings.ReplaceAll(strings.TrimSpace(text(v)), ",", "")
		if raw == "" {
			return requireEmpty(field)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid(field, fmt.Sprintf("not a number: %q", text(v)))
		}
		return f, nil
	case domain.KindSelect:
		opt := text(v)
		if opt == "" {
			return requireEmpty(field)
		}
		if len(field.Options) > 0 && !slices.Contains(field.Options, opt) {
			return nil, invalid(field, fmt.Sprintf("unknown option %q", opt))
		}
		return opt, nil
	case domain.KindBusinessNumber:
		formatted := FormatBRN(text(v))
		if formatted == "" {
			return requireEmpty(field)
		}
		if !ValidBRN(text(v)) {
			return nil, invalid(field, "invalid business number")
		}
		return formatted, nil
	case domain.KindNote:
		return norm.NFC.String(text(v)), nil
	default:
		str := strings.TrimSpace(norm.NFC.String(text(v)))
		if str == "" {
			return requireEmpty(field)
		}
		return str, nil
	}
}

// requireEmpty returns the cleared value, or a validation error for
// required columns.
func requireEmpty(field domain.FieldSpec) (any, error) {
	if field.Required {
		return nil, invalid(field, domain.MsgRequired)
	}
	return nil, nil
}

func text(v any) string {
	return domain.Record{"v": v}.Text("v")
}

func sameValue(a, b any) bool {
	return text(a) == text(b)
}

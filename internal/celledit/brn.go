package celledit

import (
	"context"
	"sync"
	"time"

	"erpcore/pkg/domain"
)

const brnDigits = 10

var brnWeights = [9]int{1, 3, 7, 1, 3, 7, 1, 3, 5}

// NormalizeBRN strips a business registration number to at most ten digits.
func NormalizeBRN(raw string) string {
	return digitsOnly(raw, brnDigits)
}

// FormatBRN renders (partial) input in the XXX-XX-XXXXX layout.
func FormatBRN(raw string) string {
	d := NormalizeBRN(raw)
	switch {
	case len(d) > 5:
		return d[:3] + "-" + d[3:5] + "-" + d[5:]
	case len(d) > 3:
		return d[:3] + "-" + d[3:]
	default:
		return d
	}
}

// ValidBRN applies the National Tax Service checksum: a weighted sum of the
// first nine digits, plus the tens digit of the ninth product, determines
// the tenth.
func ValidBRN(raw string) bool {
	d := NormalizeBRN(raw)
	if len(d) != brnDigits || len(digitsOnly(raw, brnDigits+1)) != brnDigits {
		return false
	}
	sum := 0
	for i, w := range brnWeights {
		sum += int(d[i]-'0') * w
	}
	sum += int(d[8]-'0') * 5 / 10
	check := (10 - sum%10) % 10
	return check == int(d[9]-'0')
}

// BRNStatus is the validation state of a business number input.
type BRNStatus int

// Business number input states.
const (
	BRNIncomplete BRNStatus = iota
	BRNInvalid
	BRNChecking
	BRNAvailable
	BRNDuplicate
	BRNCheckFailed
)

func (s BRNStatus) String() string {
	switch s {
	case BRNInvalid:
		return "invalid"
	case BRNChecking:
		return "checking"
	case BRNAvailable:
		return "available"
	case BRNDuplicate:
		return "duplicate"
	case BRNCheckFailed:
		return "check_failed"
	default:
		return "incomplete"
	}
}

// MarshalText renders the status name.
func (s BRNStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BRNState is reported to the input's observer whenever the status changes.
type BRNState struct {
	Value  string    `json:"value"`
	Status BRNStatus `json:"status"`
}

// DefaultBRNDebounce is the quiet period before a uniqueness check.
const DefaultBRNDebounce = 500 * time.Millisecond

// BusinessNumberInput formats business number keystrokes, validates the
// checksum and runs a debounced uniqueness check. A check started for an
// older value never overwrites the status of a newer one.
type BusinessNumberInput struct {
	checker   domain.UniquenessChecker
	excludeID string
	delay     time.Duration
	onChange  func(BRNState)

	// afterFunc schedules f after d and returns a stop function; tests
	// replace it to fire checks synchronously.
	afterFunc func(d time.Duration, f func()) func() bool

	mu     sync.Mutex
	state  BRNState
	seq    uint64
	stop   func() bool
	closed bool
}

// NewBusinessNumberInput builds an input checking against checker. excludeID
// is the record being edited, so its own number does not count as taken.
func NewBusinessNumberInput(checker domain.UniquenessChecker, excludeID string, delay time.Duration, onChange func(BRNState)) *BusinessNumberInput {
	if delay <= 0 {
		delay = DefaultBRNDebounce
	}
	if onChange == nil {
		onChange = func(BRNState) {}
	}
	return &BusinessNumberInput{
		checker:   checker,
		excludeID: excludeID,
		delay:     delay,
		onChange:  onChange,
		afterFunc: func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop },
	}
}

// Set replaces the input value and returns the formatted value with its
// immediate status. Invalid numbers are flagged without a backend check.
func (b *BusinessNumberInput) Set(raw string) BRNState {
	formatted := FormatBRN(raw)
	b.mu.Lock()
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	b.seq++
	seq := b.seq
	st := BRNState{Value: formatted}
	switch {
	case len(NormalizeBRN(raw)) < brnDigits:
		st.Status = BRNIncomplete
	case !ValidBRN(raw):
		st.Status = BRNInvalid
	case b.checker == nil:
		st.Status = BRNAvailable
	default:
		st.Status = BRNChecking
		if !b.closed {
			b.stop = b.afterFunc(b.delay, func() { b.check(seq, formatted) })
		}
	}
	b.state = st
	b.mu.Unlock()
	b.onChange(st)
	return st
}

func (b *BusinessNumberInput) check(seq uint64, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.run(ctx, seq, value)
}

// Flush runs a scheduled uniqueness check now instead of waiting for the
// debounce, and returns the settled state. Other states are returned as is.
func (b *BusinessNumberInput) Flush(ctx context.Context) BRNState {
	b.mu.Lock()
	if b.closed || b.state.Status != BRNChecking {
		st := b.state
		b.mu.Unlock()
		return st
	}
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	seq, value := b.seq, b.state.Value
	b.mu.Unlock()
	b.run(ctx, seq, value)
	return b.State()
}

func (b *BusinessNumberInput) run(ctx context.Context, seq uint64, value string) {
	b.mu.Lock()
	if b.closed || seq != b.seq || b.state.Status != BRNChecking {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	unique, err := b.checker.IsUnique(ctx, domain.FieldBusinessNumber, value, b.excludeID)

	b.mu.Lock()
	if b.closed || seq != b.seq {
		b.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		b.state.Status = BRNCheckFailed
	case unique:
		b.state.Status = BRNAvailable
	default:
		b.state.Status = BRNDuplicate
	}
	st := b.state
	b.mu.Unlock()
	b.onChange(st)
}

// CheckBusinessNumber runs the full validation for raw synchronously: layout,
// checksum and, when checker is set, uniqueness against every record except
// excludeID.
func CheckBusinessNumber(ctx context.Context, checker domain.UniquenessChecker, raw, excludeID string) BRNState {
	st := BRNState{Value: FormatBRN(raw)}
	switch {
	case len(NormalizeBRN(raw)) < brnDigits:
		st.Status = BRNIncomplete
	case !ValidBRN(raw):
		st.Status = BRNInvalid
	case checker == nil:
		st.Status = BRNAvailable
	default:
		unique, err := checker.IsUnique(ctx, domain.FieldBusinessNumber, st.Value, excludeID)
		switch {
		case err != nil:
			st.Status = BRNCheckFailed
		case unique:
			st.Status = BRNAvailable
		default:
			st.Status = BRNDuplicate
		}
	}
	return st
}

// State returns the current value and status.
func (b *BusinessNumberInput) State() BRNState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close stops any pending check. Results arriving afterwards are dropped.
func (b *BusinessNumberInput) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
}

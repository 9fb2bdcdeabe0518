package domain

import "context"

// CreateResult is the outcome of Backend.Create. Exactly one of Data or Error
// is meaningful; Data may be nil on success when the backend does not echo the
// persisted row.
type CreateResult struct {
	Data  Record `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Err converts the result into the error taxonomy.
func (r CreateResult) Err() error {
	if r.Error == "" {
		return nil
	}
	return Classify(r.Error)
}

// MutationResult is the outcome of Update, Delete and Reorder.
type MutationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Err converts the result into the error taxonomy. A result that is neither
// successful nor carries an error string is reported as transient.
func (r MutationResult) Err() error {
	if r.Error != "" {
		return Classify(r.Error)
	}
	if !r.Success {
		return &TransientError{Message: "backend returned no result"}
	}
	return nil
}

// Succeeded builds a successful MutationResult.
func Succeeded() MutationResult { return MutationResult{Success: true} }

// Failed builds a failed MutationResult carrying msg.
func Failed(msg string) MutationResult { return MutationResult{Error: msg} }

// Backend is the per-table CRUD surface the table engine depends on.
// Implementations enforce their own authorization and report it through the
// error string channel.
type Backend interface {
	List(ctx context.Context, orderBy string) ([]Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	Create(ctx context.Context, fields Record) CreateResult
	Update(ctx context.Context, id string, changes Record) MutationResult
	Delete(ctx context.Context, id string) MutationResult
}

// Position assigns a sort_order to a record.
type Position struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Reorderer is implemented by backends that support drag reordering. Its
// absence disables reorder in the engine.
type Reorderer interface {
	Reorder(ctx context.Context, items []Position) MutationResult
}

// UniquenessChecker answers whether value is unused for field, ignoring the
// record identified by excludeID.
type UniquenessChecker interface {
	IsUnique(ctx context.Context, field, value, excludeID string) (bool, error)
}

// AttachmentAppender is implemented by backends that add an attachment to a
// row's attachments column in one step, so concurrent uploads to the same
// row cannot overwrite each other.
type AttachmentAppender interface {
	AppendAttachment(ctx context.Context, id string, att Attachment) MutationResult
}

// Tables resolves a Backend by table name.
type Tables interface {
	Table(name string) (Backend, error)
}

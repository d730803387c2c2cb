package state

import (
	"time"

	"github.com/google/uuid"
)

// NewOperationID returns a fresh random operation id.
func NewOperationID() string {
	return uuid.NewString()
}

// Stamp fills in the fields a client may leave blank before the operation
// is submitted: id, author, kind and creation time.
func Stamp(op Operation, authorID string, now time.Time) Operation {
	if op.ID == "" {
		op.ID = NewOperationID()
	}
	if op.AuthorID == "" {
		op.AuthorID = authorID
	}
	if op.Kind == "" {
		op.Kind = KindStroke
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = now.UnixMilli()
	}
	return op
}

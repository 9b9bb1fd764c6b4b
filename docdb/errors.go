package docdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUniqueConstraint is matched by *UniqueConstraintError.
	ErrUniqueConstraint = errors.New("unique constraint violation")
	// ErrPersistence wraps failures returned by the persistence adapter.
	ErrPersistence = errors.New("persistence failure")
	// ErrCorruptSnapshot is returned when a stored snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrInvalidDocument is returned for documents that cannot be serialized.
	ErrInvalidDocument = errors.New("invalid document")
)

// UniqueConstraintError reports an insert rejected because an existing row
// shares a value on one of the collection's unique fields.
type UniqueConstraintError struct {
	Collection string
	Fields     []string
	// Query is the conflict check that the existing row failed to match:
	// {field: {"$ne": value}} for every unique field.
	Query map[string]any
	// Conflict is a copy of the existing row.
	Conflict Document
}

func (e *UniqueConstraintError) Error() string {
	msg := fmt.Sprintf("unique constraint violation on %s(%s)", e.Collection, strings.Join(e.Fields, ", "))
	if id, ok := e.Conflict.ID(); ok {
		msg += fmt.Sprintf(": conflicts with _id %d", id)
	}
	return msg
}

func (e *UniqueConstraintError) Is(target error) bool {
	return target == ErrUniqueConstraint
}

package storage

import (
	"errors"
	"fmt"

	fgerrors "github.com/friendsofgo/errors"
	"github.com/lib/pq"
)

// ErrorKind classifies store and driver failures so that callers can branch
// without inspecting driver-specific errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// KindForeignKey means a referenced row was not visible to the statement,
	// typically because the transaction that writes it has not committed yet.
	KindForeignKey

	// KindUniqueViolation means a unique or primary key constraint failed.
	KindUniqueViolation

	// KindConflict means a guarded status update found records that were no
	// longer "new".
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindForeignKey:
		return "foreign_key"
	case KindUniqueViolation:
		return "unique_violation"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// PostgreSQL error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqForeignKeyViolation pq.ErrorCode = "23503"
	pqUniqueViolation     pq.ErrorCode = "23505"
)

// ConstraintViolation is returned by the store when a statement fails a
// constraint or a guarded update.
type ConstraintViolation struct {
	Kind       ErrorKind
	Constraint string
	Err        error
}

func (e *ConstraintViolation) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s violation on %s: %v", e.Kind, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConstraintViolation) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, looking through wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return cv.Kind
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		if cause, ok := fgerrors.Cause(err).(*pq.Error); ok {
			pqErr = cause
		}
	}
	if pqErr == nil {
		return KindUnknown
	}
	switch pqErr.Code {
	case pqForeignKeyViolation:
		return KindForeignKey
	case pqUniqueViolation:
		return KindUniqueViolation
	default:
		return KindUnknown
	}
}

// classify converts driver constraint errors into a *ConstraintViolation and
// returns any other error unchanged.
func classify(err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		return err
	}
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return err
	}
	violation := &ConstraintViolation{Kind: kind, Err: err}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		violation.Constraint = pqErr.Constraint
	}
	return violation
}

package extract

import (
	"errors"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

// RetryableError marks an extractor failure as transient. The blocks it
// failed on stay pending and are picked up again by a later pass.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError. Returns nil if err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err or any error it wraps is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// recoverable reports whether a failed sub-batch should be left pending
// rather than marked as errored.
func recoverable(err error) bool {
	if IsRetryable(err) {
		return true
	}
	switch storage.KindOf(err) {
	case storage.KindForeignKey, storage.KindConflict:
		return true
	}
	return false
}

// failureKind labels err for logs and metrics.
func failureKind(err error) string {
	if IsRetryable(err) {
		return "retryable"
	}
	return storage.KindOf(err).String()
}

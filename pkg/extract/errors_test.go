package extract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	require.NoError(t, Retryable(nil))

	cause := errors.New("timeout")
	err := fmt.Errorf("failed to transform: %w", Retryable(cause))
	require.True(t, IsRetryable(err))
	require.ErrorIs(t, err, cause)
	require.False(t, IsRetryable(cause))
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
		kind     string
	}{
		{name: "retryable", err: Retryable(errors.New("timeout")), expected: true, kind: "retryable"},
		{name: "foreign key", err: fmt.Errorf("insert: %w", foreignKeyError("fk")), expected: true, kind: "foreign_key"},
		{name: "conflict", err: conflictError(1), expected: true, kind: "conflict"},
		{name: "plain", err: errors.New("bad data"), expected: false, kind: "unknown"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, recoverable(test.err))
			require.Equal(t, test.kind, failureKind(test.err))
		})
	}
}

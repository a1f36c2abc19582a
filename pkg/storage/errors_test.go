package storage

import (
	"errors"
	"fmt"
	"testing"

	fgerrors "github.com/friendsofgo/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"foreign key", &pq.Error{Code: "23503"}, KindForeignKey},
		{"unique", &pq.Error{Code: "23505"}, KindUniqueViolation},
		{"other pq", &pq.Error{Code: "40001"}, KindUnknown},
		{"wrapped foreign key", fmt.Errorf("insert: %w", &pq.Error{Code: "23503"}), KindForeignKey},
		{"pkg wrapped foreign key", fgerrors.Wrap(&pq.Error{Code: "23503"}, "insert"), KindForeignKey},
		{"conflict", &ConstraintViolation{Kind: KindConflict, Err: errors.New("x")}, KindConflict},
		{
			"wrapped conflict",
			fgerrors.Wrap(&ConstraintViolation{Kind: KindConflict, Err: errors.New("x")}, "advance"),
			KindConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	pqErr := &pq.Error{Code: "23503", Constraint: "block_intervals_block_number_fkey"}
	err := classify(pqErr)

	var cv *ConstraintViolation
	require.ErrorAs(t, err, &cv)
	require.Equal(t, KindForeignKey, cv.Kind)
	require.Equal(t, "block_intervals_block_number_fkey", cv.Constraint)
	require.ErrorIs(t, err, pqErr)

	plain := errors.New("boom")
	require.Same(t, plain, classify(plain))
}

func TestErrorKindString(t *testing.T) {
	require.Equal(t, "foreign_key", KindForeignKey.String())
	require.Equal(t, "conflict", KindConflict.String())
	require.Equal(t, "unknown", ErrorKind(42).String())
}

package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/study-engine/internal/domain/shared"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code  string
		check func(error) bool
	}{
		{codeLockNotAvailable, shared.IsConflict},
		{codeSerializationFailure, shared.IsConflict},
		{codeDeadlockDetected, shared.IsConflict},
		{codeStringTooLong, shared.IsValidation},
		{codeQueryCanceled, shared.IsRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code}
			err := classify("record session", pgErr)
			assert.True(t, tt.check(err))
			assert.ErrorIs(t, err, pgErr)
		})
	}

	err := classify("record session", &pgconn.PgError{Code: codeUniqueViolation})
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	plain := errors.New("connection reset")
	err = classify("record session", plain)
	assert.ErrorIs(t, err, plain)
	assert.False(t, shared.IsValidation(err))
	assert.False(t, shared.IsConflict(err))

	assert.NoError(t, classify("record session", nil))
}

package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoBackendsAvailableError(t *testing.T) {
	err := NewNoBackendsAvailableError("hybrid", nil)
	assert.Equal(t, "no backends available for strategy hybrid", err.Error())

	err = NewNoBackendsAvailableError("cost", []string{"gcs", "azure"})
	assert.Equal(t, "no backends available for strategy cost (requested: gcs, azure)", err.Error())

	assert.Equal(t, "no backends available", (&NoBackendsAvailableError{}).Error())
}

func TestUnknownBackendError(t *testing.T) {
	err := NewUnknownBackendError("ceph", "route mapping for document")
	assert.Equal(t, "unknown backend 'ceph' in route mapping for document", err.Error())
	assert.Equal(t, "unknown backend 'ceph'", NewUnknownBackendError("ceph", "").Error())
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("weights", "weights must sum to a positive value")
	assert.Equal(t, "validation error for parameter 'weights': weights must sum to a positive value", err.Error())
}

func TestIncompatibleVersionErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("malformed version")
	err := NewIncompatibleVersionError("x.y", ">= 1.0, < 2.0", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "x.y")
}

func TestClassificationThroughWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		check    func(error) bool
		expected bool
	}{
		{"no backends direct", NewNoBackendsAvailableError("random", nil), IsNoBackendsAvailableError, true},
		{"no backends wrapped", fmt.Errorf("select: %w", NewNoBackendsAvailableError("random", nil)), IsNoBackendsAvailableError, true},
		{"unknown backend wrapped", WrapWithContext("set mapping", NewUnknownBackendError("x", "")), IsUnknownBackendError, true},
		{"validation from wrap", WrapValidationError("strategy", fmt.Errorf("bad")), IsValidationError, true},
		{"persistence wrapped", fmt.Errorf("save: %w", NewPersistenceError("sqlite", "save", fmt.Errorf("disk full"))), IsPersistenceError, true},
		{"plain error", fmt.Errorf("validation-like text"), IsValidationError, false},
		{"nil", nil, IsUnknownBackendError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestIsCancellationError(t *testing.T) {
	assert.True(t, IsCancellationError(context.Canceled))
	assert.True(t, IsCancellationError(fmt.Errorf("probe: %w", context.DeadlineExceeded)))
	assert.False(t, IsCancellationError(fmt.Errorf("boom")))
	assert.False(t, IsCancellationError(nil))
}

func TestCodeForError(t *testing.T) {
	assert.Equal(t, 0, CodeForError(nil))
	assert.Equal(t, NoBackendsAvailable, CodeForError(NewNoBackendsAvailableError("", nil)))
	assert.Equal(t, UnknownBackend, CodeForError(NewUnknownBackendError("a", "")))
	assert.Equal(t, InvalidParams, CodeForError(NewValidationError("p", "m")))
	assert.Equal(t, IncompatibleDocument, CodeForError(NewIncompatibleVersionError("3.0", ">= 1.0, < 2.0", nil)))
	assert.Equal(t, PersistenceFailure, CodeForError(NewPersistenceError("mongo", "load", fmt.Errorf("x"))))
	assert.Equal(t, InternalError, CodeForError(fmt.Errorf("other")))
	assert.False(t, IsClientError(fmt.Errorf("other")))
	assert.True(t, IsClientError(NewValidationError("p", "m")))
}

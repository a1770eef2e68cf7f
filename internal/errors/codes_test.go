package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/wareline/branchstore/internal/errors"
)

func TestStoreError_MessageAndCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := storeerrors.PersistenceFailed("snapshot write failed", cause)

	assert.Contains(t, err.Error(), "snapshot write failed")
	assert.ErrorIs(t, err, cause)
}

func TestStoreError_Details(t *testing.T) {
	err := storeerrors.PersistenceFailed("write failed", nil).
		WithDetail("tenant_id", "branch-1").
		WithDetail("module_id", "pos")

	assert.Equal(t, "branch-1", err.Details["tenant_id"])
	assert.Equal(t, "pos", err.Details["module_id"])
}

func TestGetCode_UnwrapsWrappedErrors(t *testing.T) {
	inner := storeerrors.UnknownTable("branch-1", "pos", "ghost")
	wrapped := fmt.Errorf("applying mutation: %w", inner)

	assert.Equal(t, storeerrors.ErrCodeUnknownTable, storeerrors.GetCode(wrapped))
	assert.Equal(t, storeerrors.ErrCodeInternal, storeerrors.GetCode(fmt.Errorf("plain")))
}

func TestConflict_CarriesVersions(t *testing.T) {
	err := storeerrors.Conflict("product", "p1", 1, 3)

	require.True(t, storeerrors.IsConflict(err))
	assert.Equal(t, int64(1), err.Details["observed_version"])
	assert.Equal(t, int64(3), err.Details["stored_version"])
	assert.False(t, storeerrors.IsConflict(fmt.Errorf("other")))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, storeerrors.IsValidation(storeerrors.ValidationFailed("bad input")))
	assert.False(t, storeerrors.IsValidation(storeerrors.InternalError("boom", nil)))
}

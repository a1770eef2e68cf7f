package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeValidationFailed    ErrorCode = 1000
	ErrCodeTableNotAllowed     ErrorCode = 1001
	ErrCodeUnknownTable        ErrorCode = 1002
	ErrCodeUnknownAction       ErrorCode = 1003
	ErrCodeConflict            ErrorCode = 1004
	ErrCodeRecordNotFound      ErrorCode = 1005
	ErrCodeSequenceRuleMissing ErrorCode = 1006

	// Server errors
	ErrCodeInternal            ErrorCode = 2000
	ErrCodeSchemaMissing       ErrorCode = 2001
	ErrCodePersistenceFailed   ErrorCode = 2002
	ErrCodeJournalFailed       ErrorCode = 2003
	ErrCodeArchivalUnavailable ErrorCode = 2004
	ErrCodeHydrationFailed     ErrorCode = 2005
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func ValidationFailed(message string) *StoreError {
	return NewStoreError(ErrCodeValidationFailed, message, nil)
}

func TableNotAllowed(table, reason string) *StoreError {
	return NewStoreError(ErrCodeTableNotAllowed, fmt.Sprintf("table %q not allowed: %s", table, reason), nil).
		WithDetail("table", table).
		WithDetail("reason", reason)
}

func UnknownTable(tenantID, moduleID, table string) *StoreError {
	return NewStoreError(ErrCodeUnknownTable, fmt.Sprintf("unknown table %q for %s/%s", table, tenantID, moduleID), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("module_id", moduleID).
		WithDetail("table", table)
}

func UnknownAction(action string) *StoreError {
	return NewStoreError(ErrCodeUnknownAction, fmt.Sprintf("unsupported mutation action %q", action), nil).
		WithDetail("action", action)
}

func Conflict(table, recordID string, observed, stored int64) *StoreError {
	return NewStoreError(ErrCodeConflict,
		fmt.Sprintf("record version conflict on %s/%s: observed %d, stored %d", table, recordID, observed, stored), nil).
		WithDetail("table", table).
		WithDetail("record_id", recordID).
		WithDetail("observed_version", observed).
		WithDetail("stored_version", stored)
}

func RecordNotFound(table, recordID string) *StoreError {
	return NewStoreError(ErrCodeRecordNotFound, fmt.Sprintf("record not found: %s/%s", table, recordID), nil).
		WithDetail("table", table).
		WithDetail("record_id", recordID)
}

func SequenceRuleMissing(moduleID, table, field string) *StoreError {
	return NewStoreError(ErrCodeSequenceRuleMissing,
		fmt.Sprintf("no sequence rule for %s:%s:%s", moduleID, table, field), nil).
		WithDetail("module_id", moduleID).
		WithDetail("table", table).
		WithDetail("field", field)
}

func SchemaMissing(tenantID, moduleID, table string) *StoreError {
	return NewStoreError(ErrCodeSchemaMissing,
		fmt.Sprintf("schema for module %q is missing required table %q for tenant %q", moduleID, table, tenantID), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("module_id", moduleID).
		WithDetail("table", table)
}

func PersistenceFailed(message string, cause error) *StoreError {
	return NewStoreError(ErrCodePersistenceFailed, message, cause)
}

func JournalFailed(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeJournalFailed, message, cause)
}

func ArchivalUnavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeArchivalUnavailable, message, cause)
}

func HydrationFailed(tenantID, moduleID string, cause error) *StoreError {
	return NewStoreError(ErrCodeHydrationFailed,
		fmt.Sprintf("failed to hydrate store %s/%s", tenantID, moduleID), cause).
		WithDetail("tenant_id", tenantID).
		WithDetail("module_id", moduleID)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsConflict reports whether err is an optimistic-concurrency conflict
func IsConflict(err error) bool {
	return GetCode(err) == ErrCodeConflict
}

// IsValidation reports whether err was rejected before any side effect
func IsValidation(err error) bool {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeTableNotAllowed, ErrCodeUnknownTable, ErrCodeUnknownAction:
		return true
	}
	return false
}

// Package errors provides structured error types for martforge.
// All errors carry a category, a code and a message so callers can decide
// how to present a failure without parsing strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategoryPartition ErrorCategory = "PARTITION"
	ErrCategorySource    ErrorCategory = "SOURCE"
	ErrCategoryMapping   ErrorCategory = "MAPPING"
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Partition codes
	CodeInvalidPattern      = "INVALID_PATTERN"
	CodeIncompleteTransform = "INCOMPLETE_TRANSFORM"
	CodeUnknownColumn       = "UNKNOWN_COLUMN"
	CodeDuplicateColumn     = "DUPLICATE_COLUMN"
	CodeInvalidLimit        = "INVALID_LIMIT"
	CodeNotPrepared         = "NOT_PREPARED"
	CodeNoCurrentRow        = "NO_CURRENT_ROW"
	CodeCancelled           = "CANCELLED"

	// Source codes
	CodeDerivationFailed = "DERIVATION_FAILED"
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeObjectNotFound   = "OBJECT_NOT_FOUND"

	// Mapping codes
	CodeInvalidMapping           = "INVALID_MAPPING"
	CodeUnresolvedTransformation = "UNRESOLVED_TRANSFORMATION"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Matching is by category and code only.
var (
	ErrInvalidPattern           = New(ErrCategoryPartition, CodeInvalidPattern, "invalid pattern")
	ErrIncompleteTransform      = New(ErrCategoryPartition, CodeIncompleteTransform, "incomplete transform")
	ErrUnknownColumn            = New(ErrCategoryPartition, CodeUnknownColumn, "unknown column")
	ErrDuplicateColumn          = New(ErrCategoryPartition, CodeDuplicateColumn, "duplicate column")
	ErrInvalidLimit             = New(ErrCategoryPartition, CodeInvalidLimit, "invalid row limit")
	ErrNotPrepared              = New(ErrCategoryPartition, CodeNotPrepared, "rows not prepared")
	ErrNoCurrentRow             = New(ErrCategoryPartition, CodeNoCurrentRow, "no current row")
	ErrCancelled                = New(ErrCategoryPartition, CodeCancelled, "cancelled")
	ErrDerivation               = New(ErrCategorySource, CodeDerivationFailed, "derivation failed")
	ErrInvalidFilter            = New(ErrCategorySource, CodeInvalidFilter, "invalid filter")
	ErrObjectNotFound           = New(ErrCategorySource, CodeObjectNotFound, "object not found")
	ErrInvalidMapping           = New(ErrCategoryMapping, CodeInvalidMapping, "invalid mapping")
	ErrUnresolvedTransformation = New(ErrCategoryMapping, CodeUnresolvedTransformation, "unresolved transformation")
	ErrInvalidConfig            = New(ErrCategoryConfig, CodeInvalidConfig, "invalid configuration")
)

// MartError is the structured error type used throughout the module.
type MartError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	// Violations lists every failed precondition when one operation
	// validates several things before acting.
	Violations []string
	Cause      error
}

// Error returns a formatted error string.
func (e *MartError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if len(e.Violations) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(e.Violations, "; "))
		sb.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MartError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MartError) Is(target error) bool {
	var t *MartError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MartError.
func New(category ErrorCategory, code, message string) *MartError {
	return &MartError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new MartError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MartError {
	return &MartError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MartError) WithDetails(details map[string]interface{}) *MartError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithViolations returns a copy of the error carrying the given violations.
func (e *MartError) WithViolations(violations []string) *MartError {
	cp := *e
	cp.Violations = append([]string(nil), violations...)
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MartError.
func GetCategory(err error) ErrorCategory {
	var me *MartError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MartError.
func GetCode(err error) string {
	var me *MartError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// GetViolations extracts the violation list from an error chain.
func GetViolations(err error) []string {
	var me *MartError
	if errors.As(err, &me) {
		return me.Violations
	}
	return nil
}

// Convenience constructors for common errors.

func NewPartitionError(code, message string) *MartError {
	return New(ErrCategoryPartition, code, message)
}

func NewSourceError(code, message string, cause error) *MartError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewMappingError(code, message string) *MartError {
	return New(ErrCategoryMapping, code, message)
}

func NewConfigError(message string, cause error) *MartError {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *MartError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

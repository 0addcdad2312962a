package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestMartError_Error(t *testing.T) {
	err := New(ErrCategoryPartition, CodeUnknownColumn, "no column \"region\"")
	expected := "[PARTITION:UNKNOWN_COLUMN] no column \"region\""
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestMartError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := Wrap(ErrCategorySource, CodeDerivationFailed, "scan failed", cause)
	expected := "[SOURCE:DERIVATION_FAILED] scan failed: database is locked"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestMartError_ErrorWithViolations(t *testing.T) {
	err := NewMappingError(CodeInvalidMapping, "mapping rejected").
		WithViolations([]string{"level 0 has no dataset column", "naming column unknown"})
	expected := "[MAPPING:INVALID_MAPPING] mapping rejected (level 0 has no dataset column; naming column unknown)"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestMartError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategorySource, CodeDerivationFailed, "derive", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestMartError_Is(t *testing.T) {
	err1 := New(ErrCategoryPartition, CodeNoCurrentRow, "first")
	err2 := New(ErrCategoryPartition, CodeNoCurrentRow, "second")
	err3 := New(ErrCategoryPartition, CodeNotPrepared, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{NewPartitionError(CodeInvalidPattern, "bad regex"), ErrInvalidPattern},
		{NewPartitionError(CodeUnknownColumn, "missing"), ErrUnknownColumn},
		{NewSourceError(CodeDerivationFailed, "io", fmt.Errorf("eof")), ErrDerivation},
		{NewMappingError(CodeInvalidMapping, "level 0"), ErrInvalidMapping},
		{NewMappingError(CodeUnresolvedTransformation, "no unit"), ErrUnresolvedTransformation},
		{fmt.Errorf("wrapped: %w", NewPartitionError(CodeNoCurrentRow, "x")), ErrNoCurrentRow},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%v should match sentinel %v", tt.err, tt.sentinel)
		}
	}

	if errors.Is(NewPartitionError(CodeUnknownColumn, "x"), ErrDuplicateColumn) {
		t.Error("unknown column should not match duplicate column")
	}
}

func TestGetCategory(t *testing.T) {
	err := NewMappingError(CodeInvalidMapping, "bad")
	if GetCategory(err) != ErrCategoryMapping {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryMapping)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-MartError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewPartitionError(CodeInvalidLimit, "limit 0")
	if GetCode(err) != CodeInvalidLimit {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidLimit)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-MartError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewPartitionError(CodeUnknownColumn, "bad column")
	detailed := err.WithDetails(map[string]interface{}{"column": "region"})

	if detailed.Details["column"] != "region" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestGetViolations(t *testing.T) {
	base := NewMappingError(CodeInvalidMapping, "rejected")
	err := fmt.Errorf("apply: %w", base.WithViolations([]string{"a", "b"}))

	got := GetViolations(err)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
	if base.Violations != nil {
		t.Error("WithViolations should not modify original")
	}
	if GetViolations(fmt.Errorf("plain")) != nil {
		t.Error("plain error should have no violations")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	p := NewPartitionError(CodeDuplicateColumn, "dup")
	if p.Category != ErrCategoryPartition || p.Code != CodeDuplicateColumn {
		t.Error("NewPartitionError mismatch")
	}

	s := NewSourceError(CodeObjectNotFound, "missing object", cause)
	if s.Category != ErrCategorySource || !errors.Is(s, cause) {
		t.Error("NewSourceError mismatch")
	}

	c := NewConfigError("bad mode", cause)
	if c.Category != ErrCategoryConfig || c.Code != CodeInvalidConfig {
		t.Error("NewConfigError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}

package gwerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	e := New(KindInvalidInput, "missing query")
	if e.Error() != "invalid_input: missing query" {
		t.Fatalf("Error() = %q", e.Error())
	}

	wrapped := Wrap(KindExternalCall, "llm call failed", errors.New("timeout"))
	if wrapped.Error() != "external_call_failure: llm call failed: timeout" {
		t.Fatalf("Error() = %q", wrapped.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindExternalCall, "failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to see through Unwrap to the cause")
	}
}

func TestIs_MatchesDirectKind(t *testing.T) {
	err := New(KindInvalidInput, "bad request")
	if !Is(err, KindInvalidInput) {
		t.Fatal("expected Is to match the error's own kind")
	}
	if Is(err, KindConfiguration) {
		t.Fatal("expected Is to reject a different kind")
	}
}

func TestIs_RejectsNonGwerror(t *testing.T) {
	if Is(errors.New("plain"), KindInvalidInput) {
		t.Fatal("expected Is to return false for a non-*Error")
	}
}

func TestIs_DoesNotUnwrapThroughFmtWrap(t *testing.T) {
	err := New(KindInvalidInput, "bad request")
	outer := fmt.Errorf("context: %w", err)
	if Is(outer, KindInvalidInput) {
		t.Fatal("Is performs a direct type assertion, not errors.As - it should not see through an outer fmt.Errorf wrap")
	}
}

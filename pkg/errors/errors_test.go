package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewInvalidInputError("chat id required")
	if got := err.Error(); got != "[INVALID_INPUT] chat id required" {
		t.Fatalf("Error() = %q", got)
	}

	cause := stderrors.New("disk full")
	wrapped := Wrap(CodeInternal, "write journal", cause)
	if !strings.Contains(wrapped.Error(), "disk full") {
		t.Fatalf("wrapped message missing cause: %q", wrapped.Error())
	}
	if !stderrors.Is(wrapped, cause) {
		t.Fatal("errors.Is should see through AppError")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewNotFoundError("tool")); got != CodeNotFound {
		t.Fatalf("CodeOf = %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Fatalf("plain errors should default to internal, got %s", got)
	}
	if !IsNotFound(NewNotFoundError("x")) {
		t.Fatal("IsNotFound false for not-found error")
	}
	if IsInvalidInput(NewNotFoundError("x")) {
		t.Fatal("IsInvalidInput true for not-found error")
	}
}

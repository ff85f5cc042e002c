package errs

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("chat %q", "c1")
	if !Is(err, KindNotFound) {
		t.Errorf("Is(err, KindNotFound) = false, want true")
	}
	if Is(err, KindConflict) {
		t.Errorf("Is(err, KindConflict) = true, want false")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("boom"), KindStorage) {
		t.Errorf("Is(plain error, KindStorage) = true, want false")
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("flush chunks", cause)

	se, ok := err.(*StoreError)
	if !ok {
		t.Fatalf("Storage() returned %T, want *StoreError", err)
	}
	if !errors.Is(se, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if se.Kind != KindStorage {
		t.Errorf("Kind = %v, want %v", se.Kind, KindStorage)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("flush chunks", cause)
	want := "storage: flush chunks: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindValidation, "validation"},
		{KindStorage, "storage"},
		{KindCancelled, "cancelled"},
		{KindProducerFailure, "producer_failure"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

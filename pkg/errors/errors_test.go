package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingAndUnwrap(t *testing.T) {
	err := NewConnectionError("cannot connect mw to mr", ErrInvalidBufferSize)

	if !strings.Contains(err.Error(), "[CONNECTION]") {
		t.Fatalf("expected code in message, got %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidBufferSize) {
		t.Fatal("expected wrapped sentinel to be reachable with errors.Is")
	}

	bare := NewError("X", "no cause", nil)
	if bare.Error() != "[X] no cause" {
		t.Fatalf("unexpected message %q", bare.Error())
	}
}

func TestIsUnsupported(t *testing.T) {
	if !IsUnsupported(NewResourceError("affinity", ErrUnsupported)) {
		t.Fatal("expected wrapped ErrUnsupported to be detected")
	}
	if IsUnsupported(ErrTaskDeleted) {
		t.Fatal("did not expect ErrTaskDeleted to be reported as unsupported")
	}
}

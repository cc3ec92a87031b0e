package pipeline

import (
	"errors"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindTransientIO, "transient_io"},
		{KindDropLoss, "drop_loss"},
		{KindDeviceOpen, "device_open"},
		{KindFatal, "fatal"},
		{KindBadArg, "bad_arg"},
		{ErrorKind(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap(KindFatal, nil); err != nil {
		t.Errorf("Wrap(kind, nil) = %v, want nil", err)
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Wrap(KindDeviceOpen, inner)

	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is(wrapped, inner) = false, want true")
	}

	var ke *KindError
	if !errors.As(wrapped, &ke) {
		t.Fatal("errors.As(wrapped, &KindError) = false, want true")
	}
	if ke.Kind != KindDeviceOpen {
		t.Errorf("Kind = %v, want KindDeviceOpen", ke.Kind)
	}
}

func TestKindErrorMessage(t *testing.T) {
	err := Wrap(KindFatal, errors.New("stdin closed"))
	want := "fatal: stdin closed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

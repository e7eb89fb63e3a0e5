package ember

import (
	"errors"
	"testing"
)

func TestErrorPolicyString(t *testing.T) {
	tests := map[ErrorPolicy]string{
		PolicyIgnore:           "ignore",
		PolicyNotifyOnRecovery: "notify_on_recovery",
		PolicyBlock:            "block",
		PolicyFailImmediately:  "fail_immediately",
		ErrorPolicy(99):        "unknown",
	}
	for policy, want := range tests {
		if got := policy.String(); got != want {
			t.Errorf("ErrorPolicy(%d).String() = %q, want %q", policy, got, want)
		}
	}
}

func TestWriteStatusString(t *testing.T) {
	tests := map[WriteStatus]string{
		StatusOK:             "ok",
		StatusTemporaryError: "temporary_error",
		StatusPermanentError: "permanent_error",
		WriteStatus(99):      "unknown",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("WriteStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestFlushErrorUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := &FlushError{Status: StatusTemporaryError, Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to see through FlushError to its wrapped cause")
	}
}

func TestFatalFlushErrorUnwrap(t *testing.T) {
	inner := errors.New("disk gone")
	e := &FatalFlushError{Status: StatusPermanentError, Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to see through FatalFlushError to its wrapped cause")
	}
}

func TestFormatErrorUnwrap(t *testing.T) {
	inner := errors.New("bad arg")
	e := &FormatError{Type: TypeDescriptor{Name: "x"}, Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to see through FormatError to its wrapped cause")
	}
}

func TestExcessiveOutputByFrameMessage(t *testing.T) {
	e := &ExcessiveOutputByFrame{Requested: 100, Capacity: 10}
	if e.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

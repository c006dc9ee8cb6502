package lsmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeString(t *testing.T) {
	cases := map[Code]string{
		OK:         "OK",
		ErrGeneric: "ERROR",
		Busy:       "BUSY",
		NoMem:      "NOMEM",
		IOErr:      "IOERR",
		Corrupt:    "CORRUPT",
		Full:       "FULL",
		CantOpen:   "CANTOPEN",
		Misuse:     "MISUSE",
		NotFound:   "NOTFOUND",
		Code(999):  "UNKNOWN",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := New(Corrupt, "pager.Open", nil)
	if got, want := e.Error(), "pager.Open: CORRUPT"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := errors.New("checksum mismatch")
	e2 := New(Corrupt, "pager.Open", wrapped)
	if got, want := e2.Error(), "pager.Open: CORRUPT: checksum mismatch"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrap(t *testing.T) {
	wrapped := errors.New("disk full")
	e := New(Full, "walog.Commit", wrapped)
	if !errors.Is(e, wrapped) {
		t.Error("errors.Is should see through Unwrap to the wrapped error")
	}
}

func TestIs(t *testing.T) {
	e := New(NotFound, "lsmdb.Seek", nil)
	if !Is(e, NotFound) {
		t.Error("Is(e, NotFound) = false, want true")
	}
	if Is(e, Busy) {
		t.Error("Is(e, Busy) = true, want false")
	}

	wrapped := fmt.Errorf("while doing x: %w", New(Busy, "worker.Work", nil))
	if !Is(wrapped, Busy) {
		t.Error("Is should unwrap through fmt.Errorf %w chains")
	}

	if Is(nil, NotFound) {
		t.Error("Is(nil, ...) should be false")
	}
	if Is(errors.New("plain"), NotFound) {
		t.Error("Is on a non-*Error chain should be false")
	}
}

func TestErrorsIsMatchesByCodeOnly(t *testing.T) {
	a := New(Busy, "opA", errors.New("x"))
	b := New(Busy, "opB", errors.New("y"))
	if !errors.Is(a, b) {
		t.Error("two *Error values with the same Code should satisfy errors.Is")
	}
	c := New(Corrupt, "opC", nil)
	if errors.Is(a, c) {
		t.Error("different Codes should not satisfy errors.Is")
	}
}

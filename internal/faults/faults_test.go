package faults

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := New(ErrPersistence, "save json", io.ErrShortWrite)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected kind match, got %v", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected cause match, got %v", err)
	}
	want := "save json: persistence failure: short write"
	if err.Error() != want {
		t.Fatalf("want %q, got %q", want, err.Error())
	}
}

func TestPersistenceDoesNotDoubleWrap(t *testing.T) {
	inner := Persistence("inner", io.EOF)
	outer := Persistence("outer", inner)
	if outer != inner {
		t.Fatalf("expected same error, got %v", outer)
	}
	if Persistence("noop", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: context.Canceled, want: "interrupted"},
		{err: fmt.Errorf("run: %w", ErrInterrupted), want: "interrupted"},
		{err: Invalidf("limiter", "limit must be > 0, got %d", 0), want: "invalid_configuration"},
		{err: New(ErrUnsupportedRuntime, "", nil), want: "unsupported_runtime"},
		{err: Persistence("save", io.EOF), want: "persistence_failure"},
		{err: New(ErrTaskFailure, "task 3", io.EOF), want: "task_failure"},
		{err: io.EOF, want: "unclassified"},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) want=%s got=%s", tc.err, tc.want, got)
		}
	}
}

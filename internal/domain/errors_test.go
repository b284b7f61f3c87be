package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapNil(t *testing.T) {
	if Wrap(KindDependency, "op", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestWrapKeepsInnerKind(t *testing.T) {
	inner := Errorf(KindValidation, "parse", "bad input")
	outer := Wrap(KindDependency, "handle", fmt.Errorf("context: %w", inner))
	if KindOf(outer) != KindValidation {
		t.Fatalf("kind = %s, want validation", KindOf(outer))
	}
}

func TestWrapTagsPlainError(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(KindDependency, "customers.search", base)
	if !IsKind(err, KindDependency) {
		t.Fatalf("kind = %s", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error must unwrap to the base")
	}
	if err.Error() != "customers.search: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestKindOfUntagged(t *testing.T) {
	if KindOf(errors.New("x")) != KindUnknown {
		t.Fatal("untagged error should be unknown")
	}
	if IsKind(nil, KindUnknown) {
		t.Fatal("nil is never of any kind")
	}
}

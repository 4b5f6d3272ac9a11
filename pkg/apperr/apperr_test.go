package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	err := Wrap(ErrAmountMismatch, "expected %s, got %s", "125.00", "125.50")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected errors.Is to match ErrAmountMismatch, got %v", err)
	}
	if KindOf(err) != KindBusinessRule {
		t.Errorf("expected business rule kind, got %s", KindOf(err))
	}
	if err.Error() != "amount does not match declaration total: expected 125.00, got 125.50" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestKindOfThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("failed to approve deposit: %w", Conflictf("deposit %d changed", 7))
	if KindOf(err) != KindConflict {
		t.Errorf("expected conflict kind, got %s", KindOf(err))
	}
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected errors.Is to match ErrConflict")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Errorf("plain errors must classify as internal")
	}
}

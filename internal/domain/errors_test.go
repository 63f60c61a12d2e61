package domain

import (
	"errors"
	"testing"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("dial", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "dial: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "dial: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("auth", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("auth", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestRevertError(t *testing.T) {
	err := &RevertError{Op: "borrow", Reason: "insufficient collateral"}

	if err.IsRetriable() {
		t.Error("RevertError should never be retriable")
	}

	expected := "borrow: reverted: insufficient collateral"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}

	bare := &RevertError{Op: "supply"}
	if bare.Error() != "supply: transaction reverted" {
		t.Errorf("Error message = %q", bare.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("amount", "must be greater than zero")

	if err.IsRetriable() {
		t.Error("ValidationError should never be retriable")
	}

	expected := "invalid amount: must be greater than zero"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

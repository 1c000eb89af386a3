package transfer

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/realize-engineering/pipebird/internal/model"
)

var allStatuses = []model.TransferStatus{
	model.TransferStarted,
	model.TransferPending,
	model.TransferComplete,
	model.TransferCancelled,
	model.TransferFailed,
}

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		from, to model.TransferStatus
		allowed  bool
	}{
		{model.TransferStarted, model.TransferPending, true},
		{model.TransferStarted, model.TransferCancelled, true},
		{model.TransferStarted, model.TransferComplete, false},
		{model.TransferStarted, model.TransferFailed, false},
		{model.TransferPending, model.TransferComplete, true},
		{model.TransferPending, model.TransferCancelled, true},
		{model.TransferPending, model.TransferFailed, true},
		{model.TransferPending, model.TransferStarted, false},
		{model.TransferComplete, model.TransferCancelled, false},
		{model.TransferFailed, model.TransferPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected allowed=%v", tc.from, tc.to, tc.allowed)
		}
	}
}

func TestTerminalStatusesAdmitNothingRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStatuses).Draw(t, "from")
		to := rapid.SampledFrom(allStatuses).Draw(t, "to")

		if IsTerminal(from) && CanTransition(from, to) {
			t.Fatalf("terminal status %s permitted transition to %s", from, to)
		}
		if CanTransition(from, to) && from == to {
			t.Fatalf("self transition %s should not be legal", from)
		}
	})
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []model.TransferStatus{model.TransferComplete, model.TransferCancelled, model.TransferFailed} {
		if !IsTerminal(status) {
			t.Fatalf("%s should be terminal", status)
		}
	}
	for _, status := range []model.TransferStatus{model.TransferStarted, model.TransferPending} {
		if IsTerminal(status) {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(model.TransferStarted, model.TransferPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckTransition(model.TransferComplete, model.TransferCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

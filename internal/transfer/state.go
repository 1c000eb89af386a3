// Package transfer runs the replication pipeline for one transfer at a time
// and enforces the transfer lifecycle.
package transfer

import (
	"errors"
	"fmt"

	"github.com/realize-engineering/pipebird/internal/model"
)

// ErrInvalidTransition signals a lifecycle move the state machine forbids,
// including any attempt to leave a terminal status.
var ErrInvalidTransition = errors.New("invalid transfer transition")

// STARTED is the enqueued state, PENDING means a worker owns the transfer,
// and COMPLETE, CANCELLED and FAILED are terminal.
var transitions = map[model.TransferStatus][]model.TransferStatus{
	model.TransferStarted: {model.TransferPending, model.TransferCancelled},
	model.TransferPending: {model.TransferComplete, model.TransferCancelled, model.TransferFailed},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to model.TransferStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status model.TransferStatus) bool {
	return len(transitions[status]) == 0
}

// CheckTransition returns ErrInvalidTransition for forbidden moves.
func CheckTransition(from, to model.TransferStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

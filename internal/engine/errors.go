package engine

import (
	"errors"
	"fmt"
)

// ErrConcurrentModification reports a lost compare-and-swap write. Callers
// should re-read and retry.
var ErrConcurrentModification = errors.New("concurrent modification, retry")

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PhaseViolation reports an operation not permitted in the epoch's phase.
type PhaseViolation struct {
	Phase  string
	Op     string
	Detail string
}

func (e PhaseViolation) Error() string {
	msg := fmt.Sprintf("%s not permitted while epoch is %s", e.Op, e.Phase)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// InsufficientResource reports an RP spend exceeding the balance.
type InsufficientResource struct {
	Have int
	Need int
}

func (e InsufficientResource) Error() string {
	return fmt.Sprintf("insufficient resource points: have %d, need %d", e.Have, e.Need)
}

// ConflictState reports an operation requiring a different entity status.
type ConflictState struct {
	Entity string
	Status string
	Op     string
}

func (e ConflictState) Error() string {
	return fmt.Sprintf("%s not possible: %s is %s", e.Op, e.Entity, e.Status)
}

// ExternalServiceFailure wraps a collaborator error. The failure is recorded
// on the owning entity, never silently dropped.
type ExternalServiceFailure struct {
	Service string
	Err     error
}

func (e ExternalServiceFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

func (e ExternalServiceFailure) Unwrap() error { return e.Err }

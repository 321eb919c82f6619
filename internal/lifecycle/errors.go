package lifecycle

import (
	"errors"
	"fmt"
)

// Conflict errors: another actor won a race. Terminal, surfaced verbatim.
var (
	ErrAlreadyMatched = errors.New("package no longer available")
	ErrTripFull       = errors.New("trip offer is at capacity")
	ErrSelfMatch      = errors.New("cannot match a package with its owner's own trip")
)

// ValidationError rejects malformed input before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Step identifies how far a proposeMatch saga progressed before failing.
type Step int

const (
	StepGuard Step = iota
	StepMatchCreated
	StepConversationEnsured
	StepStatusesApplied
)

func (s Step) String() string {
	switch s {
	case StepGuard:
		return "guard"
	case StepMatchCreated:
		return "match_created"
	case StepConversationEnsured:
		return "conversation_ensured"
	case StepStatusesApplied:
		return "statuses_applied"
	default:
		return "unknown"
	}
}

// PartialMatchError reports a saga that committed a Match but could not
// finish. The caller (or the reconciler) re-invokes the coordinator with
// the match id; recovery is forward-only, never a rollback.
type PartialMatchError struct {
	MatchID  string
	LastStep Step
	Err      error
}

func (e *PartialMatchError) Error() string {
	return fmt.Sprintf("match %s partially committed (last step %s): %v", e.MatchID, e.LastStep, e.Err)
}

func (e *PartialMatchError) Unwrap() error { return e.Err }

// IsConflict reports whether err is one of the terminal race-loss errors.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyMatched) || errors.Is(err, ErrTripFull) || errors.Is(err, ErrSelfMatch)
}

// Package lifecycle holds the proposal status machine. Every status change
// in the service goes through Transition so illegal moves fail in one place.
package lifecycle

import "fmt"

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusMerged      Status = "MERGED"
	StatusRejected    Status = "REJECTED"
)

var transitions = map[Status][]Status{
	StatusDraft:       {StatusUnderReview},
	StatusUnderReview: {StatusMerged, StatusRejected},
	StatusMerged:      {},
	StatusRejected:    {},
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot transition proposal from %s to %s", e.From, e.To)
}

func Valid(status Status) bool {
	_, ok := transitions[status]
	return ok
}

func Terminal(status Status) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition returns the target status or a TransitionError describing the
// rejected move.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// Package deliberation implements the thread mechanics that do not touch
// storage: vote toggling, reaction sets, resolution outcomes, and the
// enumerations threads are normalized against.
package deliberation

import (
	"errors"
	"sort"
	"strings"
)

const (
	StatusOpen     = "OPEN"
	StatusResolved = "RESOLVED"
	StatusOrphaned = "ORPHANED"

	OutcomeAccepted = "ACCEPTED"
	OutcomeRejected = "REJECTED"
	OutcomeDeferred = "DEFERRED"

	VisibilityInternal = "INTERNAL"
	VisibilityExternal = "EXTERNAL"

	DirectionUp   = "up"
	DirectionDown = "down"
)

var threadTypes = map[string]bool{
	"GENERAL":    true,
	"LEGAL":      true,
	"COMMERCIAL": true,
	"TECHNICAL":  true,
	"SECURITY":   true,
	"QUERY":      true,
	"EDITORIAL":  true,
}

var (
	ErrUnknownDirection  = errors.New("deliberation: unknown vote direction")
	ErrUnknownOutcome    = errors.New("deliberation: unknown resolution outcome")
	ErrRationaleRequired = errors.New("deliberation: rejection requires a rationale")
)

// NormalizeType uppercases the requested type and falls back to GENERAL for
// anything outside the known set.
func NormalizeType(raw string) string {
	candidate := strings.ToUpper(strings.TrimSpace(raw))
	if threadTypes[candidate] {
		return candidate
	}
	return "GENERAL"
}

// NormalizeVisibility falls back to INTERNAL; use ValidVisibility when the
// caller's value must be rejected instead of defaulted.
func NormalizeVisibility(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), VisibilityExternal) {
		return VisibilityExternal
	}
	return VisibilityInternal
}

func ValidVisibility(raw string) bool {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	return upper == VisibilityInternal || upper == VisibilityExternal
}

// ApplyVote applies one user's vote toggle to the per-user direction map and
// returns the vote count delta plus whether the user has a vote recorded
// afterwards. Same direction twice undoes, the opposite direction flips.
func ApplyVote(votesByUser map[string]string, userID, direction string) (delta int, voted bool, err error) {
	if direction != DirectionUp && direction != DirectionDown {
		return 0, false, ErrUnknownDirection
	}
	step := 1
	if direction == DirectionDown {
		step = -1
	}
	previous, hadVote := votesByUser[userID]
	switch {
	case hadVote && previous == direction:
		delete(votesByUser, userID)
		return -step, false, nil
	case hadVote:
		votesByUser[userID] = direction
		return 2 * step, true, nil
	default:
		votesByUser[userID] = direction
		return step, true, nil
	}
}

// ToggleReaction flips the user's membership in the emoji's reactor set and
// reports whether the user is reacting afterwards. Empty sets are pruned so
// counts can be derived from set sizes alone.
func ToggleReaction(reactionsByEmoji map[string][]string, emoji, userID string) bool {
	reactors := reactionsByEmoji[emoji]
	for i, reactor := range reactors {
		if reactor == userID {
			reactors = append(reactors[:i], reactors[i+1:]...)
			if len(reactors) == 0 {
				delete(reactionsByEmoji, emoji)
			} else {
				reactionsByEmoji[emoji] = reactors
			}
			return false
		}
	}
	reactionsByEmoji[emoji] = append(reactors, userID)
	return true
}

// NormalizeOutcome validates a resolution request. An empty outcome defaults
// to ACCEPTED; REJECTED without a rationale is refused.
func NormalizeOutcome(raw, rationale string) (string, error) {
	outcome := strings.ToUpper(strings.TrimSpace(raw))
	if outcome == "" {
		outcome = OutcomeAccepted
	}
	switch outcome {
	case OutcomeAccepted, OutcomeDeferred:
		return outcome, nil
	case OutcomeRejected:
		if strings.TrimSpace(rationale) == "" {
			return "", ErrRationaleRequired
		}
		return outcome, nil
	default:
		return "", ErrUnknownOutcome
	}
}

// Participants collects the distinct identities involved in a thread, author
// first, repliers in sorted order after.
func Participants(author string, repliers []string) []string {
	seen := map[string]bool{author: true}
	var rest []string
	for _, replier := range repliers {
		if replier == "" || seen[replier] {
			continue
		}
		seen[replier] = true
		rest = append(rest, replier)
	}
	sort.Strings(rest)
	return append([]string{author}, rest...)
}

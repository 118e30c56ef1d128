// Package rotation holds the turn-rotation rules for an exchange diary:
// who may write, how the pointer advances, and who gets notified. Everything
// here is pure so the rules are testable without a database.
package rotation

import "errors"

var (
	ErrNotMember   = errors.New("not a group member")
	ErrNotYourTurn = errors.New("not your turn")
)

// Advance returns the next turn index. A single-member order maps onto
// itself, so the sole member keeps the turn indefinitely.
func Advance(index, length int) int {
	if length <= 0 {
		return 0
	}
	return (index + 1) % length
}

// Holder returns the identity at the turn pointer, or "" when the order is
// empty or the index is out of range.
func Holder(turnOrder []string, index int) string {
	if index < 0 || index >= len(turnOrder) {
		return ""
	}
	return turnOrder[index]
}

// ValidateHolder is the single validated-transition gate shared by submit
// and pass: the actor must be a member, and must be the current holder.
// Membership is checked first so non-members get the authorization error
// rather than the turn-ownership one.
func ValidateHolder(members, turnOrder []string, index int, actor string) error {
	member := false
	for _, id := range members {
		if id == actor {
			member = true
			break
		}
	}
	if !member {
		return ErrNotMember
	}
	if Holder(turnOrder, index) != actor {
		return ErrNotYourTurn
	}
	return nil
}

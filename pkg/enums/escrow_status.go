package enums

import "fmt"

// EscrowStatus tracks held funds for an order item. Holding is the only
// state from which both Released and Refunded are reachable; every other
// state is terminal.
type EscrowStatus string

const (
	EscrowStatusHolding  EscrowStatus = "holding"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusCanceled EscrowStatus = "canceled"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusHolding,
	EscrowStatusReleased,
	EscrowStatusRefunded,
	EscrowStatusCanceled,
}

// String implements fmt.Stringer.
func (e EscrowStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowStatus.
func (e EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsTerminal reports whether funds have already moved.
func (e EscrowStatus) IsTerminal() bool {
	return e != EscrowStatusHolding
}

// ParseEscrowStatus converts raw input into an EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}

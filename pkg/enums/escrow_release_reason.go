package enums

import "fmt"

// EscrowReleaseReason records which trigger moved funds out of holding.
type EscrowReleaseReason string

const (
	EscrowReleaseReasonDelivery    EscrowReleaseReason = "delivery"
	EscrowReleaseReasonAdminManual EscrowReleaseReason = "admin_manual"
	EscrowReleaseReasonGraceSweep  EscrowReleaseReason = "grace_sweep"
	EscrowReleaseReasonCancel      EscrowReleaseReason = "cancellation"
	EscrowReleaseReasonDispute     EscrowReleaseReason = "dispute"
)

var validEscrowReleaseReasons = []EscrowReleaseReason{
	EscrowReleaseReasonDelivery,
	EscrowReleaseReasonAdminManual,
	EscrowReleaseReasonGraceSweep,
	EscrowReleaseReasonCancel,
	EscrowReleaseReasonDispute,
}

// String implements fmt.Stringer.
func (e EscrowReleaseReason) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowReleaseReason.
func (e EscrowReleaseReason) IsValid() bool {
	for _, candidate := range validEscrowReleaseReasons {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEscrowReleaseReason converts raw input into an EscrowReleaseReason.
func ParseEscrowReleaseReason(value string) (EscrowReleaseReason, error) {
	for _, candidate := range validEscrowReleaseReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow release reason %q", value)
}

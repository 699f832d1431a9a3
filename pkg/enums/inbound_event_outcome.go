package enums

import "fmt"

// InboundEventOutcome is the processing result recorded on an inbound event.
type InboundEventOutcome string

const (
	InboundEventOutcomePending          InboundEventOutcome = "pending"
	InboundEventOutcomeApplied          InboundEventOutcome = "applied"
	InboundEventOutcomeIgnoredDuplicate InboundEventOutcome = "ignored_duplicate"
	InboundEventOutcomeIgnoredStale     InboundEventOutcome = "ignored_stale"
	InboundEventOutcomeFailed           InboundEventOutcome = "failed"
)

var validInboundEventOutcomes = []InboundEventOutcome{
	InboundEventOutcomePending,
	InboundEventOutcomeApplied,
	InboundEventOutcomeIgnoredDuplicate,
	InboundEventOutcomeIgnoredStale,
	InboundEventOutcomeFailed,
}

// String implements fmt.Stringer.
func (v InboundEventOutcome) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v InboundEventOutcome) IsValid() bool {
	for _, candidate := range validInboundEventOutcomes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseInboundEventOutcome converts raw input into a InboundEventOutcome.
func ParseInboundEventOutcome(value string) (InboundEventOutcome, error) {
	for _, candidate := range validInboundEventOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inbound event outcome %q", value)
}

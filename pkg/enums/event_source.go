package enums

import "fmt"

// EventSource identifies who produced an inbound event.
type EventSource string

const (
	EventSourceProvider       EventSource = "provider"
	EventSourceReconciliation EventSource = "reconciliation"
	EventSourceScheduler      EventSource = "scheduler"
)

var validEventSources = []EventSource{
	EventSourceProvider,
	EventSourceReconciliation,
	EventSourceScheduler,
}

// String implements fmt.Stringer.
func (v EventSource) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v EventSource) IsValid() bool {
	for _, candidate := range validEventSources {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseEventSource converts raw input into a EventSource.
func ParseEventSource(value string) (EventSource, error) {
	for _, candidate := range validEventSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event source %q", value)
}

package sequencer

import (
	"fmt"
	"time"
)

// ValidationError rejects an invalid mutation or configuration value.
// Nothing is silently coerced; callers get the field, the offending value
// and the reason.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func errInvalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// FaultKind classifies runtime faults handled by the recovery coordinator
type FaultKind int

const (
	FaultTimingDrift FaultKind = iota
	FaultAudioHandoff
	FaultClockSyncLost
)

func (k FaultKind) String() string {
	switch k {
	case FaultTimingDrift:
		return "timing-drift"
	case FaultAudioHandoff:
		return "audio-handoff"
	case FaultClockSyncLost:
		return "clock-sync-lost"
	}
	return "unknown"
}

// Fault is a runtime fault reported to the recovery coordinator. Faults are
// values, never panics: the timing loop converts local failures into Fault
// reports and keeps running.
type Fault struct {
	Kind   FaultKind
	At     time.Time
	Detail string
	Err    error

	// Retry re-attempts the failed hand-off (audio faults only). The
	// coordinator calls it off the timing thread with bounded backoff.
	Retry func() error
}

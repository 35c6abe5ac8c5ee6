package interfaces

import "time"

// TelemetryEvent is one recorded operational event
type TelemetryEvent struct {
	Name       string                 `json:"name"`
	Severity   string                 `json:"severity"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// TelemetryService records operational events that must not fail the
// work that produced them. Demoted failures (best-effort persistence,
// critic findings) land here instead of in job errors.
type TelemetryService interface {
	// Record stores an event and increments its counter
	Record(name string, fields map[string]interface{})

	// Count returns how many times an event name has been recorded
	Count(name string) int64

	// Events returns the most recent events, newest last
	Events() []TelemetryEvent
}

package orchestrator

import (
	"time"
)

// EventType classifies execution events on the external contract.
type EventType string

const (
	EventStart    EventType = "start"
	EventStep     EventType = "step"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	// EventVisualization is part of the wire enum for consumers that filter
	// by type; the orchestrator itself surfaces visualizations as a
	// top-level field on step events rather than separate events.
	EventVisualization EventType = "visualization"
)

// Event is the unit consumers observe. Produced exclusively by the
// orchestrator; pattern steps are never exposed directly.
type Event struct {
	RunID          string                 `json:"run_id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Visualizations interface{}            `json:"visualizations,omitempty"`
	Debug          map[string]interface{} `json:"debug,omitempty"`
}

// Sink receives every event the orchestrator emits, after the caller's
// channel. Implementations must not block; slow consumers drop or buffer on
// their own side.
type Sink interface {
	Publish(runID string, ev Event)
}

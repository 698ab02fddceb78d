// Package telemetry carries structured run events from the scheduler to observers.
package telemetry

import "time"

type EventType string

const (
	RunStarted      EventType = "RunStarted"
	WaveCompleted   EventType = "WaveCompleted"
	RunProgress     EventType = "RunProgress"
	CredentialFound EventType = "CredentialFound"
	RunFinished     EventType = "RunFinished"
	RunStopped      EventType = "RunStopped"
	RunFailed       EventType = "RunFailed"
)

// Terminal reports whether t ends a run. Exactly one terminal event is
// published per run and it is always the last one.
func (t EventType) Terminal() bool {
	switch t {
	case RunFinished, RunStopped, RunFailed:
		return true
	}
	return false
}

// Event is the tagged record delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Publish must not block the caller.
type Sink interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

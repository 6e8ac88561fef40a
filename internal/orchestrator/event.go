package orchestrator

import (
	"fmt"
	"time"
)

// State is the orchestrator lifecycle position.
type State int32

const (
	Idle State = iota
	Restarting
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Restarting:
		return "restarting"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventType names what happened.
type EventType string

const (
	EventStarted        EventType = "started"
	EventRestartBegin   EventType = "restart_begin"
	EventRestartDone    EventType = "restart_done"
	EventReloadFailed   EventType = "reload_failed"
	EventBindFailed     EventType = "bind_failed"
	EventInterrupted    EventType = "restart_interrupted"
	EventTriggerDropped EventType = "trigger_dropped"
	EventShuttingDown   EventType = "shutting_down"
	EventTerminated     EventType = "terminated"
	EventFatal          EventType = "fatal"
)

// Event is emitted to observers on every transition.
type Event struct {
	Type          EventType `json:"type"`
	State         string    `json:"state"`
	Generation    int       `json:"generation,omitempty"`
	Path          string    `json:"path,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	Time          time.Time `json:"time"`
}

// Observer receives events on the orchestrator goroutine, or on the caller
// of Trigger for dropped triggers. It must not block.
type Observer func(Event)

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	State      string    `json:"state"`
	Generation int       `json:"generation"`
	Listening  bool      `json:"listening"`
	StartedAt  time.Time `json:"started_at"`
	Restarts   int       `json:"restarts"`
	LastError  string    `json:"last_error,omitempty"`
}

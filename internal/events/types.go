package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicPlan = "plan"
)

// Event type constants
const (
	EventTypeAttemptStarted = "task.attempt.started"
	EventTypeAttemptFailed  = "task.attempt.failed"
	EventTypeTaskSucceeded  = "task.succeeded"
	EventTypeTaskFailed     = "task.failed"
	EventTypeTaskSkipped    = "task.skipped"
	EventTypeWaveStarted    = "plan.wave.started"
)

// AttemptStartedEvent is published before every attempt of a task.
type AttemptStartedEvent struct {
	ID        string // Task name
	Attempt   int    // 1-based
	Timestamp time.Time
}

func (e AttemptStartedEvent) EventType() string { return EventTypeAttemptStarted }
func (e AttemptStartedEvent) TaskID() string    { return e.ID }

// AttemptFailedEvent is published when one attempt fails.
// Final is set when the task will not try again.
type AttemptFailedEvent struct {
	ID        string
	Attempt   int
	Kind      string // Failure kind, empty for non-task errors
	Err       error
	Final     bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e AttemptFailedEvent) EventType() string { return EventTypeAttemptFailed }
func (e AttemptFailedEvent) TaskID() string    { return e.ID }

// TaskSucceededEvent is published when a task run ends in success.
type TaskSucceededEvent struct {
	ID        string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task run ends in failure.
type TaskFailedEvent struct {
	ID        string
	Attempts  int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskSkippedEvent is published when a planned task never runs because a
// dependency failed.
type TaskSkippedEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskID() string    { return e.ID }

// WaveStartedEvent is published when a plan starts a wave of independent tasks.
type WaveStartedEvent struct {
	Index     int
	Tasks     []string
	Timestamp time.Time
}

func (e WaveStartedEvent) EventType() string { return EventTypeWaveStarted }
func (e WaveStartedEvent) TaskID() string    { return "" }

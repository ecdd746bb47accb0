package supervisor

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the supervisor.
type State int

const (
	StateIdle          State = iota // Run has not been called
	StateStarting                   // creating the child process, or waiting to
	StateRunning                    // a child process is alive
	StateStopRequested              // stop received, child being torn down
	StateStopped                    // terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Control is a lifecycle notification from the service framework.
type Control int

const (
	ControlStop Control = iota
	ControlShutdown
)

func (c Control) String() string {
	switch c {
	case ControlStop:
		return "stop"
	case ControlShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("Control(%d)", int(c))
}

// DefaultRestartDelay is the pause between a child exiting and its respawn.
const DefaultRestartDelay = 5 * time.Second

// RestartPolicy is captured once at startup and never changes during a run.
type RestartPolicy struct {
	// StopChildTree routes termination through the tree killer so processes
	// spawned by the child are killed as well.
	StopChildTree bool
	// RestartOnExit respawns the child whenever it exits on its own.
	RestartOnExit bool
	// Delay is the fixed backoff before a respawn. Zero means DefaultRestartDelay.
	Delay time.Duration
}

func (p RestartPolicy) delay() time.Duration {
	if p.Delay <= 0 {
		return DefaultRestartDelay
	}
	return p.Delay
}

// Status is a state change as reported to the service framework.
type Status struct {
	State State
	// CheckPoint increases while a stop is in progress so the framework
	// can tell the service is still making progress.
	CheckPoint uint32
	// WaitHint is how long the framework should wait for the next update.
	WaitHint time.Duration
	// ExitCode is the last exit code of the child, -1 if unknown.
	ExitCode int
	// Err is set on the final Stopped status when the run failed.
	Err error
}

// Info is a snapshot of the supervisor for logs and status output.
type Info struct {
	State        State
	PID          int
	RestartCount int
	LastExitCode int
	StartedAt    time.Time
}

// EventKind names something that happened to a child process.
type EventKind string

const (
	EventSpawn       EventKind = "spawn"
	EventSpawnFailed EventKind = "spawn_failed"
	EventExit        EventKind = "exit"
	EventRestart     EventKind = "restart"
)

// Event is a child lifecycle event. Unlike Status it is emitted for every
// child, not just the first one.
type Event struct {
	Kind         EventKind
	PID          int
	ExitCode     int // EventExit only
	RestartCount int
	Recycled     bool  // EventExit only: the child was terminated by Recycle
	Err          error // EventSpawnFailed only
}

// Package lifecycle manages long-lived background workers of the TestForge
// platform, such as the approval sweeper that times out stale approval
// gates. It is distinct from [github.com/testforge/testforge-core/pkg/models.ExecutionState],
// which tracks individual agent execution records; lifecycle states track
// the processes that serve them.
//
// # Worker Lifecycle
//
// Every worker follows a finite state machine. The [State] type represents
// the worker's current position, and all transitions are validated against
// the [validTransitions] matrix to prevent illegal state changes.
//
// The flow for a healthy worker is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may transition to Failed on error, and both
// terminal states (Stopped, Failed) may transition back to Starting for
// restart.
//
// # Thread Safety
//
// State management in [Worker] is protected by a [sync.RWMutex]. All state
// reads and writes are safe for concurrent use by multiple goroutines.
//
// # OpenTelemetry Integration
//
// Lifecycle operations create OpenTelemetry spans with semantic attributes
// for observability. The tracer scope is
// "github.com/testforge/testforge-core/pkg/lifecycle".
package lifecycle

// State represents the lifecycle state of a background worker. States form
// a finite state machine with validated transitions defined by
// [ValidTransition].
//
// The zero value ("") is not a valid state; workers are initialized with
// [StateUnknown] at construction time.
type State string

const (
	// StateUnknown is the initial state of a newly constructed worker
	// before any lifecycle method has been called.
	StateUnknown State = "unknown"

	// StateStarting indicates the worker is in the process of starting.
	// This is a transient state set at the beginning of [Worker.Start]
	// before the OnStart hook executes.
	StateStarting State = "starting"

	// StateRunning indicates the worker has started successfully and its
	// loop is processing. This is the only state in which [Worker.Health]
	// reports healthy.
	StateRunning State = "running"

	// StateStopping indicates the worker is in the process of shutting
	// down. This is a transient state set at the beginning of
	// [Worker.Stop] while the loop drains.
	StateStopping State = "stopping"

	// StateStopped indicates the worker has completed a clean shutdown.
	// This is a terminal state. A stopped worker may be restarted by
	// calling [Worker.Start].
	StateStopped State = "stopped"

	// StateFailed indicates the worker's loop or a lifecycle hook
	// returned an unrecoverable error. This is a terminal state. A failed
	// worker may be restarted by calling [Worker.Start].
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized lifecycle states.
// The zero value ("") is not valid.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is a terminal lifecycle state.
// Terminal states are [StateStopped] and [StateFailed]. A worker in a
// terminal state is not processing and must be restarted to resume
// operation.
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions for the worker
// lifecycle state machine. Each key is a source state, and the value is the
// set of states it may transition to. Transitions not present in this map
// are rejected by [ValidTransition].
//
// Transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether transitioning from state from to state to
// is allowed by the lifecycle state machine. Both from and to must be valid
// states, and the transition must be present in the [validTransitions]
// matrix. Same-state transitions (from == to) are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

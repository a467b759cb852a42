package provider

import "fmt"

// State is the lifecycle position of a service.
type State int

const (
	StateUnprovisioned State = iota
	StateCreating
	StateActive
	StateSuspended
	StateTerminated
	// StateFailed marks a service whose create or recreate failed. No
	// hypervisor resource is guaranteed to exist.
	StateFailed
)

var stateNames = map[State]string{
	StateUnprovisioned: "unprovisioned",
	StateCreating:      "creating",
	StateActive:        "active",
	StateSuspended:     "suspended",
	StateTerminated:    "terminated",
	StateFailed:        "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown service state %q", s)
}

// Event drives a State transition.
type Event string

const (
	EventCreate       Event = "create"
	EventCreated      Event = "created"
	EventCreateFailed Event = "create-failed"
	EventSuspend      Event = "suspend"
	EventUnsuspend    Event = "unsuspend"
	EventReinstall    Event = "reinstall"
	EventTerminate    Event = "terminate"
)

var transitions = map[State]map[Event]State{
	StateUnprovisioned: {
		EventCreate:    StateCreating,
		EventTerminate: StateTerminated,
	},
	StateCreating: {
		EventCreated:      StateActive,
		EventCreateFailed: StateFailed,
	},
	StateActive: {
		EventSuspend:   StateSuspended,
		EventReinstall: StateCreating,
		EventTerminate: StateTerminated,
	},
	StateSuspended: {
		EventUnsuspend: StateActive,
		EventReinstall: StateCreating,
		EventTerminate: StateTerminated,
	},
	StateFailed: {
		EventTerminate: StateTerminated,
	},
}

// Transition returns the state reached from s on ev, or a state.transition
// Error when ev is not allowed in s. Terminated accepts no events.
func (s State) Transition(ev Event) (State, error) {
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, Errorf(KeyStateTransition, "cannot %s a service that is %s", ev, s)
}

// Can reports whether ev is allowed in s.
func (s State) Can(ev Event) bool {
	_, ok := transitions[s][ev]
	return ok
}

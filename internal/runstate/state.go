// Package runstate defines the workflow run state enum and its classification
// into undefined, cancelable, unfinished and finished partitions.
package runstate

// State is the run status reported by the upstream engine and mirrored into
// the local document.
type State string

const (
	Unknown        State = "UNKNOWN"
	Queued         State = "QUEUED"
	Initializing   State = "INITIALIZING"
	Running        State = "RUNNING"
	Paused         State = "PAUSED"
	Complete       State = "COMPLETE"
	ExecutorError  State = "EXECUTOR_ERROR"
	SystemError    State = "SYSTEM_ERROR"
	Canceled       State = "CANCELED"
	Canceling      State = "CANCELING"
)

var undefined = map[State]bool{
	Unknown: true,
}

var cancelable = map[State]bool{
	Queued:       true,
	Initializing: true,
	Running:      true,
	Paused:       true,
}

var finished = map[State]bool{
	Complete:      true,
	ExecutorError: true,
	SystemError:   true,
	Canceled:      true,
}

// All lists every state in the enum, in declaration order.
var All = []State{
	Unknown, Queued, Initializing, Running, Paused,
	Complete, ExecutorError, SystemError, Canceled, Canceling,
}

// Valid reports whether s is one of the ten defined states.
func Valid(s State) bool {
	switch {
	case undefined[s], cancelable[s], finished[s], s == Canceling:
		return true
	default:
		return false
	}
}

// Finished reports whether s is a terminal state; no further state update is
// accepted from the tracker once a run reaches one of these.
func (s State) Finished() bool {
	return finished[s]
}

// Cancelable reports whether a run in state s may still be canceled.
func (s State) Cancelable() bool {
	return cancelable[s]
}

// Unfinished reports whether s is cancelable or CANCELING.
func (s State) Unfinished() bool {
	return cancelable[s] || s == Canceling
}

func (s State) String() string {
	return string(s)
}

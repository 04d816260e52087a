package scheduler

import "fmt"

// State of a session.
type State int

const (
	// Unallocated sessions don't exist yet: GenerateBufferSpace was not called.
	Unallocated State = iota

	// BufferSpaceReady sessions have an execution set to be bound, but were never committed.
	BufferSpaceReady

	// Committed sessions have a resolved BufferTable and can be executed.
	Committed

	// Running sessions have an execution submitted to the driver.
	Running

	// Completed sessions finished executing, but were not waited on yet.
	Completed
)

var stateNames = [...]string{
	Unallocated:      "Unallocated",
	BufferSpaceReady: "BufferSpaceReady",
	Committed:        "Committed",
	Running:          "Running",
	Completed:        "Completed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

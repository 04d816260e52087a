// Package handles defines the opaque identifiers shared by the binding registry, the scheduler and the drivers.
package handles

import "fmt"

// ModelID is the opaque numeric handle returned when a model is opened.
type ModelID uint32

// String implements fmt.Stringer.
func (id ModelID) String() string {
	return fmt.Sprintf("model#%d", uint32(id))
}

// SessionID identifies one execution slot of a model, in the range [0, session_count).
//
// The same index selects the execution set of the binding registry the session executes with.
type SessionID int

// String implements fmt.Stringer.
func (id SessionID) String() string {
	return fmt.Sprintf("session#%d", int(id))
}

// Package event defines the watch-event tagged variant the Resource
// Watcher (C3) hands to the Event Queue (C4).
package event

import "go.datum.net/operatorcore/pkg/object"

// Type enumerates the watch event kinds the core distinguishes.
type Type int

const (
	// Added is emitted when the API server reports object creation.
	Added Type = iota
	// Modified is emitted on object update.
	Modified
	// Deleted is emitted on object deletion.
	Deleted
	// Bookmark carries only a resource version; never reaches user code.
	Bookmark
	// Error signals a watch stream error frame.
	Error
)

// String renders the event type name, used in logs and trace attributes.
func (t Type) String() string {
	switch t {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	case Bookmark:
		return "Bookmark"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is one frame decoded off a watch stream. Object is nil for
// Bookmark (only ResourceVersion is meaningful) and for Error (Err holds
// the cause).
type Event struct {
	Type            Type
	Object          object.Object
	ResourceVersion string
	Err             error
}

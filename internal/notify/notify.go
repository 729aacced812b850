// Package notify defines the file-change event contract shared by the
// filesystem watcher and the debounced funnel.
package notify

// Op classifies what happened to a file.
type Op int

const (
	Created Op = iota
	Modified
	Deleted
)

// String returns a human-readable name for the operation.
func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single file-change notification.
type Event struct {
	Op   Op
	Path string
}

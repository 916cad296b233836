package registry

import "io"

// Status is the lifecycle state of a connection group.
type Status string

const (
	// StatusPending: group created, no live connection yet.
	StatusPending Status = "pending"
	// StatusAlive: connection open and subscribed.
	StatusAlive Status = "alive"
	// StatusDead: connection lost; the sweep will retry it.
	StatusDead Status = "dead"
	// StatusCleanup: group superseded or emptied; the sweep removes it.
	StatusCleanup Status = "cleanup"
)

// group is the internal record. Fields are guarded by the registry mutex.
type group struct {
	id     string
	assets map[string]struct{}
	conn   io.Closer // nil when disconnected
	status Status
}

// GroupInfo is a read-only snapshot of one group.
type GroupInfo struct {
	ID     string
	Assets []string
	Status Status
}

// RemovedGroup is returned by ClearAll so the caller can tear down
// transports outside the registry lock.
type RemovedGroup struct {
	ID   string
	Conn io.Closer
}

// Stats summarizes registry contents.
type Stats struct {
	Groups      int
	AliveGroups int
	Assets      int
}

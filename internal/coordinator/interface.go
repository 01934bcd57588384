package coordinator

import (
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
)

// Phase is the scheduling state of the refresh loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRefreshing
	PhaseBackoff
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// CoordinatorState is the latest known poll outcome. It is written only by
// the coordinator's own refresh cycle and read by any number of consumers;
// State() hands out copies, never live references.
//
// Consumers can tell three situations apart: LastSnapshot nil means no
// successful fetch has ever happened; LastSnapshot set with LastError set
// means the snapshot is stale and a retry is scheduled; AuthRequired means
// retrying cannot help until credentials change.
type CoordinatorState struct {
	Phase               Phase
	LastSnapshot        *rainsoft.DeviceSnapshot
	Devices             []rainsoft.DeviceIdentity
	LastError           error
	LastErrorKind       rainsoft.Kind
	ConsecutiveFailures int
	NextPollAt          time.Time
	AuthRequired        bool
}

// Update is emitted once per completed refresh cycle, success or failure.
type Update struct {
	State CoordinatorState
	Err   error
}

package access

import (
	"fmt"
	"time"

	"github.com/jordanlanch/bioforge/pkg/models"
)

// State is where a session is in its entitlement lifecycle
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
	// StateExpired means the loaded plan has lapsed and is waiting for, or
	// has just been through, the expiry sweep.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a client lifecycle signal that may trigger revalidation
type Event string

const (
	EventVisible Event = "visible"
	EventHidden  Event = "hidden"
	EventFocus   Event = "focus"
)

// ParseEvent validates an event name
func ParseEvent(s string) (Event, bool) {
	switch Event(s) {
	case EventVisible, EventHidden, EventFocus:
		return Event(s), true
	default:
		return "", false
	}
}

// Snapshot is a consistent copy of a controller's state
type Snapshot struct {
	State        State
	Identity     *Identity
	Subscription models.Subscription
	UsageCounts  map[models.ToolType]int
	IsAdmin      bool
	Loading      bool
	FetchedAt    time.Time
}

// UsageCount is the count the free allowance is judged against
func (s Snapshot) UsageCount() int {
	return s.UsageCounts[models.ToolBioGenerator]
}

// Loaded reports whether at least one fetch has completed for the current user
func (s Snapshot) Loaded() bool {
	return s.Identity != nil && !s.FetchedAt.IsZero()
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	out.UsageCounts = make(map[models.ToolType]int, len(s.UsageCounts))
	for k, v := range s.UsageCounts {
		out.UsageCounts[k] = v
	}
	if s.Subscription.ExpiresAt != nil {
		t := *s.Subscription.ExpiresAt
		out.Subscription.ExpiresAt = &t
	}
	return out
}

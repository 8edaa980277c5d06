package workflow

import (
	"time"

	"visita/api/internal/profile"
	"visita/api/internal/rbac"
)

// Actor identifies who is invoking an operation.
type Actor struct {
	ID   string
	Name string
	Role rbac.Role
}

// Event is the notification payload handed to the delivery collaborator.
// The engine only constructs these; delivery is external.
type Event struct {
	ProfileID  string         `json:"profileId"`
	Kind       string         `json:"kind"`
	FromStatus profile.Status `json:"fromStatus"`
	ToStatus   profile.Status `json:"toStatus"`
	ActorRole  rbac.Role      `json:"actorRole"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Review history entry types. A content merge keeps status at approved but
// still leaves an audit record.
const (
	EntryStatusTransition = "status_transition"
	EntryContentMerge     = "content_merge"
)

// ReviewEntry is one append-only review history record.
type ReviewEntry struct {
	ID         string         `json:"id"`
	ProfileID  string         `json:"profileId"`
	EntryType  string         `json:"entryType"`
	FromStatus profile.Status `json:"fromStatus"`
	ToStatus   profile.Status `json:"toStatus"`
	Actor      string         `json:"actor"`
	ActorName  string         `json:"actorName,omitempty"`
	ActorRole  rbac.Role      `json:"actorRole"`
	Notes      string         `json:"notes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Result bundles the outcome of one successful workflow operation: the
// updated profile, the history entry to append, and the event to emit.
type Result struct {
	Profile *profile.Profile
	Entry   ReviewEntry
	Event   Event
}

func newResult(p *profile.Profile, kind, entryType string, from, to profile.Status, actor Actor, notes string, now time.Time) *Result {
	return &Result{
		Profile: p,
		Entry: ReviewEntry{
			ProfileID:  p.ID,
			EntryType:  entryType,
			FromStatus: from,
			ToStatus:   to,
			Actor:      actor.ID,
			ActorName:  actor.Name,
			ActorRole:  actor.Role,
			Notes:      notes,
			Timestamp:  now,
		},
		Event: Event{
			ProfileID:  p.ID,
			Kind:       kind,
			FromStatus: from,
			ToStatus:   to,
			ActorRole:  actor.Role,
			Timestamp:  now,
		},
	}
}

package core

import (
	"encoding/json"

	"github.com/dkeye/duet/internal/domain"
)

// Command is one inbound room intent, decoded by the policy that owns
// the room kind. Data is the raw client payload.
type Command struct {
	Name string
	Data json.RawMessage
}

// Event is one outbound notification addressed to a single participant.
// Policies expand room-wide fan-out themselves since they hold the
// member list at composition time.
type Event struct {
	Target domain.ParticipantID
	Type   string
	Body   any
}

// Disposition tells the registry what to do with a room after a leave.
type Disposition int

const (
	KeepRoom Disposition = iota
	DestroyRoom
)

// Policy is the per-kind behavior of a room: the host-authoritative
// session abstraction shared by playback sync, chess, calls and chat.
// The registry serializes every call against a given room, so policies
// never lock. A policy must fully validate before mutating: an error
// return means the room state is unchanged.
type Policy interface {
	Kind() domain.RoomKind
	Capacity() int

	// OnCreate initializes the kind-specific state. The creator is
	// already the sole member and the room's host.
	OnCreate(r *Room, creator domain.ParticipantID, params json.RawMessage) error

	// OnJoin runs after the joiner was added to the member set.
	OnJoin(r *Room, p domain.ParticipantID) ([]Event, error)

	OnCommand(r *Room, actor domain.ParticipantID, cmd Command) ([]Event, error)

	// OnLeave runs after p was removed from the member set.
	OnLeave(r *Room, p domain.ParticipantID) ([]Event, Disposition)

	// Snapshot is the full current payload sent to a (re)joining
	// participant in place of any replayed history.
	Snapshot(r *Room) any
}

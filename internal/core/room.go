package core

import (
	"sync"
	"time"

	"github.com/dkeye/duet/internal/domain"
)

// Room is the authoritative record of one ephemeral session. All
// mutations run under mu, so each room has exactly one writer at a time
// and Version reflects the true mutation order.
type Room struct {
	ID         domain.RoomID
	Code       string
	Kind       domain.RoomKind
	Members    []domain.ParticipantID // join order; Members[0] created the room
	Host       domain.ParticipantID
	CreatedAt  time.Time
	LastActive time.Time
	TTL        time.Duration
	Version    uint64
	State      any

	mu sync.Mutex
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// Bump increments the room version and returns the new value. Policies
// call it at the exact point a command is accepted, never before.
func (r *Room) Bump() uint64 {
	r.Version++
	return r.Version
}

func (r *Room) Touch(now time.Time) { r.LastActive = now }

func (r *Room) HasMember(p domain.ParticipantID) bool {
	for _, m := range r.Members {
		if m == p {
			return true
		}
	}
	return false
}

// Peers returns every member except p, preserving join order.
func (r *Room) Peers(p domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(r.Members))
	for _, m := range r.Members {
		if m != p {
			out = append(out, m)
		}
	}
	return out
}

// IdleSince reports whether the room has seen no activity for its TTL.
func (r *Room) IdleSince(now time.Time) bool {
	return now.Sub(r.LastActive) > r.TTL
}

// Package registry is the authoritative store of live rooms: lifecycle,
// membership invariants and code lookup. Kind-specific behavior is
// delegated to core.Policy implementations.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

// codeAlphabet skips easily confused glyphs (0/O, 1/I/L).
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLen      = 6
)

type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*core.Room
	byCode   map[string]domain.RoomID
	byMember map[domain.ParticipantID]map[domain.RoomKind]domain.RoomID
	policies map[domain.RoomKind]core.Policy
	ttl      time.Duration
	now      func() time.Time
}

func New(ttl time.Duration, policies ...core.Policy) *Registry {
	r := &Registry{
		rooms:    make(map[domain.RoomID]*core.Room),
		byCode:   make(map[string]domain.RoomID),
		byMember: make(map[domain.ParticipantID]map[domain.RoomKind]domain.RoomID),
		policies: make(map[domain.RoomKind]core.Policy),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, p := range policies {
		r.policies[p.Kind()] = p
	}
	return r
}

// codeFromID derives the shareable join code deterministically from the
// room id. attempt salts re-derivation on the rare index collision.
func codeFromID(id domain.RoomID, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", id, attempt)))
	var b strings.Builder
	for i := 0; i < codeLen; i++ {
		b.WriteByte(codeAlphabet[int(sum[i])%len(codeAlphabet)])
	}
	return b.String()
}

// Create opens a new room with the creator as sole member and host.
// Conflict if the creator already holds a room of this kind.
func (g *Registry) Create(kind domain.RoomKind, creator domain.ParticipantID, params json.RawMessage) (*core.Room, error) {
	pol, ok := g.policies[kind]
	if !ok {
		return nil, domain.Validation("unknown room kind")
	}

	g.mu.Lock()
	if _, busy := g.byMember[creator][kind]; busy {
		g.mu.Unlock()
		return nil, domain.Conflict("already engaged in a " + string(kind) + " room")
	}
	now := g.now()
	room := &core.Room{
		ID:         domain.RoomID(uuid.NewString()),
		Kind:       kind,
		Members:    []domain.ParticipantID{creator},
		Host:       creator,
		CreatedAt:  now,
		LastActive: now,
		TTL:        g.ttl,
	}
	for attempt := 0; ; attempt++ {
		code := codeFromID(room.ID, attempt)
		if _, taken := g.byCode[code]; !taken {
			room.Code = code
			break
		}
	}
	g.rooms[room.ID] = room
	g.byCode[room.Code] = room.ID
	g.bindMember(creator, kind, room.ID)
	g.mu.Unlock()

	room.Lock()
	err := pol.OnCreate(room, creator, params)
	room.Unlock()
	if err != nil {
		g.destroy(room)
		return nil, err
	}

	log.Info().Str("module", "registry").Str("room", string(room.ID)).
		Str("kind", string(kind)).Str("code", room.Code).Msg("room created")
	return room, nil
}

// Get returns the room by id.
func (g *Registry) Get(id domain.RoomID) (*core.Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	if !ok {
		return nil, domain.NotFound("room not found")
	}
	return room, nil
}

// Resolve accepts either a room id or a shareable code. Codes are
// resolved through the index map, never by scanning rooms.
func (g *Registry) Resolve(idOrCode string) (*core.Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if room, ok := g.rooms[domain.RoomID(idOrCode)]; ok {
		return room, nil
	}
	if id, ok := g.byCode[strings.ToUpper(idOrCode)]; ok {
		return g.rooms[id], nil
	}
	return nil, domain.NotFound("room not found")
}

// Join adds p to the room and returns the policy snapshot plus any
// events for existing members. Conflict if the room is full or p holds
// another room of the same kind.
func (g *Registry) Join(id domain.RoomID, p domain.ParticipantID) (any, []core.Event, error) {
	g.mu.Lock()
	room, ok := g.rooms[id]
	if !ok {
		g.mu.Unlock()
		return nil, nil, domain.NotFound("room not found")
	}
	pol := g.policies[room.Kind]
	if existing, busy := g.byMember[p][room.Kind]; busy && existing != id {
		g.mu.Unlock()
		return nil, nil, domain.Conflict("already engaged in a " + string(room.Kind) + " room")
	}
	// Reserve the binding while still holding g.mu, so two concurrent
	// joins of the same kind cannot both pass the busy check. A failed
	// join releases the reservation.
	g.bindMember(p, room.Kind, id)
	g.mu.Unlock()

	room.Lock()
	if room.HasMember(p) {
		snap := pol.Snapshot(room)
		room.Unlock()
		return snap, nil, nil
	}
	if len(room.Members) >= pol.Capacity() {
		room.Unlock()
		g.release(p, room.Kind, id)
		return nil, nil, domain.Conflict("room is full")
	}
	room.Members = append(room.Members, p)
	version := room.Bump()
	events, err := pol.OnJoin(room, p)
	if err != nil {
		room.Members = room.Members[:len(room.Members)-1]
		room.Version = version - 1
		room.Unlock()
		g.release(p, room.Kind, id)
		return nil, nil, err
	}
	room.Touch(g.now())
	snap := pol.Snapshot(room)
	room.Unlock()

	g.mu.Lock()
	if _, live := g.rooms[room.ID]; !live {
		// Destroyed while we were joining; treat as gone.
		g.unbind(p, room.Kind, id)
		g.mu.Unlock()
		return nil, nil, domain.NotFound("room not found")
	}
	g.mu.Unlock()

	log.Info().Str("module", "registry").Str("room", string(id)).
		Str("participant", string(p)).Msg("joined room")
	return snap, events, nil
}

// Command applies one room intent under the room's single-writer lock.
// Authority and turn checks live in the policy; a rejection leaves the
// room state and version untouched.
func (g *Registry) Command(id domain.RoomID, actor domain.ParticipantID, cmd core.Command) ([]core.Event, error) {
	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("room not found")
	}
	pol := g.policies[room.Kind]

	room.Lock()
	if !room.HasMember(actor) {
		room.Unlock()
		return nil, domain.Unauthorized("not a member of this room")
	}
	events, err := pol.OnCommand(room, actor, cmd)
	if err != nil {
		room.Unlock()
		return nil, err
	}
	room.Touch(g.now())
	room.Unlock()
	return events, nil
}

// Leave removes p from the room and runs the kind's cleanup hook. It is
// idempotent: leaving a room p is not in is a no-op.
func (g *Registry) Leave(id domain.RoomID, p domain.ParticipantID) ([]core.Event, error) {
	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	pol := g.policies[room.Kind]

	room.Lock()
	if !room.HasMember(p) {
		room.Unlock()
		return nil, nil
	}
	room.Members = room.Peers(p)
	room.Bump()
	events, disp := pol.OnLeave(room, p)
	room.Touch(g.now())
	empty := len(room.Members) == 0
	room.Unlock()

	g.mu.Lock()
	g.unbind(p, room.Kind, room.ID)
	g.mu.Unlock()

	if disp == core.DestroyRoom || empty {
		g.destroy(room)
	}
	log.Info().Str("module", "registry").Str("room", string(id)).
		Str("participant", string(p)).Msg("left room")
	return events, nil
}

// LeaveAll runs the leave hook for every room p is bound to. Used by
// the disconnect path; hook failures are logged, never surfaced.
func (g *Registry) LeaveAll(p domain.ParticipantID) []core.Event {
	g.mu.RLock()
	bound := make([]domain.RoomID, 0, len(g.byMember[p]))
	for _, id := range g.byMember[p] {
		bound = append(bound, id)
	}
	g.mu.RUnlock()

	var events []core.Event
	for _, id := range bound {
		evs, err := g.Leave(id, p)
		if err != nil {
			log.Error().Err(err).Str("module", "registry").Str("room", string(id)).Msg("disconnect cleanup")
			continue
		}
		events = append(events, evs...)
	}
	return events
}

// RoomOf reports the room p currently holds for the given kind.
func (g *Registry) RoomOf(p domain.ParticipantID, kind domain.RoomKind) (domain.RoomID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byMember[p][kind]
	return id, ok
}

// Snapshot returns the policy snapshot of a room.
func (g *Registry) Snapshot(room *core.Room) any {
	pol := g.policies[room.Kind]
	room.Lock()
	defer room.Unlock()
	return pol.Snapshot(room)
}

// Sweep evicts rooms idle past their TTL and returns force-close
// notifications for members that may still be connected. Rooms active
// within TTL are untouched.
func (g *Registry) Sweep(now time.Time) []core.Event {
	g.mu.RLock()
	var idle []*core.Room
	for _, room := range g.rooms {
		room.Lock()
		expired := room.IdleSince(now)
		room.Unlock()
		if expired {
			idle = append(idle, room)
		}
	}
	g.mu.RUnlock()

	var events []core.Event
	for _, room := range idle {
		room.Lock()
		for _, m := range room.Members {
			events = append(events, core.Event{
				Target: m,
				Type:   "room_closed",
				Body:   map[string]any{"room": room.ID, "reason": "idle_timeout"},
			})
		}
		room.Unlock()
		g.destroy(room)
		log.Info().Str("module", "registry").Str("room", string(room.ID)).Msg("evicted idle room")
	}
	return events
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) destroy(room *core.Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[room.ID]; !ok {
		return
	}
	delete(g.rooms, room.ID)
	delete(g.byCode, room.Code)
	room.Lock()
	members := append([]domain.ParticipantID(nil), room.Members...)
	room.Unlock()
	for _, m := range members {
		g.unbind(m, room.Kind, room.ID)
	}
	log.Info().Str("module", "registry").Str("room", string(room.ID)).Msg("room destroyed")
}

func (g *Registry) bindMember(p domain.ParticipantID, kind domain.RoomKind, id domain.RoomID) {
	if g.byMember[p] == nil {
		g.byMember[p] = make(map[domain.RoomKind]domain.RoomID)
	}
	g.byMember[p][kind] = id
}

// release drops a join reservation that did not stick.
func (g *Registry) release(p domain.ParticipantID, kind domain.RoomKind, id domain.RoomID) {
	g.mu.Lock()
	g.unbind(p, kind, id)
	g.mu.Unlock()
}

// unbind drops the member index entry. Caller holds g.mu.
func (g *Registry) unbind(p domain.ParticipantID, kind domain.RoomKind, id domain.RoomID) {
	if g.byMember[p][kind] == id {
		delete(g.byMember[p], kind)
		if len(g.byMember[p]) == 0 {
			delete(g.byMember, p)
		}
	}
}

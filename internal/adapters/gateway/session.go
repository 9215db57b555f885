package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
	"github.com/dkeye/duet/internal/queue"
)

// session is the per-connection state machine:
// unauthenticated -> idle -> searching/bound, with engagement tracked
// per room kind by the queue and registry.
type session struct {
	ctl  *Controller
	sid  core.SessionID
	conn core.Conn

	mu          sync.Mutex
	participant *domain.Participant
	gone        bool
}

func (s *session) handle(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(domain.Validation("bad json"))
		return
	}

	if env.Type == "ping" {
		s.send("pong", nil)
		return
	}
	if s.participant == nil {
		if env.Type != "authenticate" {
			s.sendError(domain.Authentication("authenticate first"))
			return
		}
		s.handleAuthenticate(data)
		return
	}

	switch env.Type {
	case "authenticate":
		s.sendError(domain.Conflict("already authenticated"))
	case "search":
		s.handleSearch(data)
	case "leave_search":
		s.handleLeaveSearch(data)
	case "create_room":
		s.handleCreateRoom(data)
	case "join_room":
		s.handleJoinRoom(data)
	case "message", "playback", "move", "resign", "signal":
		s.handleRoomCommand(env.Type, data)
	case "hangup", "leave_room":
		s.handleLeaveRoom(data)
	default:
		log.Warn().Str("module", "gateway").Str("type", env.Type).Msg("unknown intent")
		s.sendError(domain.Validation("unknown intent"))
	}
}

func (s *session) handleAuthenticate(data []byte) {
	var p struct {
		Token string `json:"token"`
		Name  string `json:"name" validate:"omitempty,max=36"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil {
		s.sendError(domain.Validation("bad authenticate payload"))
		return
	}

	var participant *domain.Participant
	if p.Token == "" {
		// No credential: ephemeral identity scoped to the client
		// token cookie.
		participant = &domain.Participant{ID: domain.ParticipantID(s.sid), Name: "guest", Guest: true}
		if p.Name != "" {
			if err := participant.SetName(p.Name); err != nil {
				s.sendError(domain.Validation(err.Error()))
				return
			}
		}
	} else {
		var err error
		participant, err = s.ctl.auth.Verify(p.Token)
		if err != nil {
			// Bad credentials reject the connection outright.
			s.sendError(domain.Authentication("invalid token"))
			s.conn.Close()
			return
		}
	}

	s.participant = participant
	s.ctl.bind(participant.ID, s)
	log.Info().Str("module", "gateway").Str("sid", string(s.sid)).
		Str("participant", string(participant.ID)).Bool("guest", participant.Guest).Msg("authenticated")
	s.send("authenticated", map[string]any{"participant": participant})
}

func (s *session) handleSearch(data []byte) {
	var p struct {
		Kind  domain.RoomKind `json:"kind" validate:"required"`
		Class string          `json:"class" validate:"omitempty,max=16"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil || !p.Kind.Valid() {
		s.sendError(domain.Validation("bad search payload"))
		return
	}
	q, ok := s.ctl.queues[p.Kind]
	if !ok {
		s.sendError(domain.Validation("kind is not searchable"))
		return
	}
	class := p.Class
	if class == "" {
		class = s.participant.Class
	}

	ctx := context.Background()
	// One active engagement per kind: a new search displaces any prior
	// queue entry or room of the same kind.
	s.forceLeave(ctx, p.Kind, "")
	if err := q.Enqueue(ctx, s.participant.ID, class); err != nil {
		s.sendError(err)
		return
	}
	s.send("searching", map[string]any{"kind": p.Kind})
	s.ctl.tryMatch(ctx, q)
}

func (s *session) handleLeaveSearch(data []byte) {
	var p struct {
		Kind domain.RoomKind `json:"kind"`
	}
	_ = json.Unmarshal(data, &p)
	ctx := context.Background()
	// Always accepted, idempotent: leaving while not searching is fine.
	if q, ok := s.ctl.queues[p.Kind]; ok {
		if err := q.Remove(ctx, s.participant.ID); err != nil {
			log.Error().Err(err).Str("module", "gateway").Msg("leave search")
		}
	} else {
		for _, q := range s.ctl.queues {
			if err := q.Remove(ctx, s.participant.ID); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("leave search")
			}
		}
	}
	s.send("search_left", map[string]any{"kind": p.Kind})
}

func (s *session) handleCreateRoom(data []byte) {
	var p struct {
		Kind   domain.RoomKind `json:"kind" validate:"required"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil || !p.Kind.Valid() {
		s.sendError(domain.Validation("bad create_room payload"))
		return
	}
	s.forceLeave(context.Background(), p.Kind, "")
	room, err := s.ctl.rooms.Create(p.Kind, s.participant.ID, p.Params)
	if err != nil {
		s.sendError(err)
		return
	}
	s.send("room_created", map[string]any{
		"room":     room.ID,
		"code":     room.Code,
		"snapshot": s.ctl.rooms.Snapshot(room),
	})
}

func (s *session) handleJoinRoom(data []byte) {
	var p struct {
		Room string `json:"room" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil {
		s.sendError(domain.Validation("bad join_room payload"))
		return
	}
	room, err := s.ctl.rooms.Resolve(p.Room)
	if err != nil {
		s.sendError(err)
		return
	}
	// Joining is an engagement like any other: the queue entry and any
	// prior room of this kind are displaced first.
	s.forceLeave(context.Background(), room.Kind, room.ID)
	snap, events, err := s.ctl.rooms.Join(room.ID, s.participant.ID)
	if err != nil {
		s.sendError(err)
		return
	}
	s.send("room_joined", map[string]any{"room": room.ID, "snapshot": snap})
	s.ctl.deliver(events)
}

func (s *session) handleRoomCommand(intent string, data []byte) {
	var p struct {
		Room   string `json:"room" validate:"required"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil {
		s.sendError(domain.Validation("bad command payload"))
		return
	}
	name := intent
	if intent == "playback" {
		if p.Action == "" {
			s.sendError(domain.Validation("playback action required"))
			return
		}
		name = p.Action
	}
	events, err := s.ctl.rooms.Command(domain.RoomID(p.Room), s.participant.ID, core.Command{Name: name, Data: data})
	if err != nil {
		s.sendError(err)
		return
	}
	s.ctl.deliver(events)
}

func (s *session) handleLeaveRoom(data []byte) {
	var p struct {
		Room string `json:"room" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil || s.ctl.valid.Struct(&p) != nil {
		s.sendError(domain.Validation("bad leave payload"))
		return
	}
	events, err := s.ctl.rooms.Leave(domain.RoomID(p.Room), s.participant.ID)
	if err != nil {
		s.sendError(err)
		return
	}
	s.send("room_left", map[string]any{"room": p.Room})
	s.ctl.deliver(events)
}

// forceLeave clears any engagement blocking a new one. A participant
// holds at most one waiting search overall, so every queue entry goes,
// whatever kind it was for; rooms are per-kind, so only a bound room of
// the given kind is left, and never the one being (re)joined.
func (s *session) forceLeave(ctx context.Context, kind domain.RoomKind, except domain.RoomID) {
	p := s.participant.ID
	for _, q := range s.ctl.queues {
		if err := q.Remove(ctx, p); err != nil {
			log.Error().Err(err).Str("module", "gateway").Msg("force leave queue")
		}
	}
	if id, bound := s.ctl.rooms.RoomOf(p, kind); bound && id != except {
		events, err := s.ctl.rooms.Leave(id, p)
		if err != nil {
			log.Error().Err(err).Str("module", "gateway").Msg("force leave room")
			return
		}
		s.ctl.deliver(events)
	}
}

// disconnect runs the presence cleanup exactly once: queue entries go
// first, then every bound room's kind-specific leave hook. Failures
// are logged, never surfaced or retried.
func (s *session) disconnect() {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	s.gone = true
	participant := s.participant
	s.mu.Unlock()

	s.conn.Close()
	if participant == nil {
		return
	}
	ctx := context.Background()
	for _, q := range s.ctl.queues {
		if err := q.Remove(ctx, participant.ID); err != nil {
			log.Error().Err(err).Str("module", "gateway").Msg("disconnect queue cleanup")
		}
	}
	events := s.ctl.rooms.LeaveAll(participant.ID)
	s.ctl.unbind(participant.ID, s)
	s.ctl.deliver(events)
	log.Info().Str("module", "gateway").Str("participant", string(participant.ID)).Msg("disconnected")
}

func (s *session) send(typ string, body any) {
	frame, err := encode(typ, body)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("encode")
		return
	}
	if err := s.conn.TrySend(frame); err != nil {
		if errors.Is(err, ErrBackpressure) {
			log.Warn().Str("module", "gateway").Str("sid", string(s.sid)).Msg("send queue full, dropping connection")
			s.conn.Close()
		}
	}
}

// sendError reports a failure to the originating connection only and
// keeps the connection open.
func (s *session) sendError(err error) {
	s.send("error", map[string]any{
		"kind":   domain.KindOf(err),
		"detail": err.Error(),
	})
}

// tryMatch pops the earliest compatible pair, opens their room and
// notifies exactly the two matched participants.
func (ctl *Controller) tryMatch(ctx context.Context, q *queue.Queue) {
	a, b, ok, err := q.DequeuePair(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("kind", string(q.Kind())).Msg("dequeue pair")
		return
	}
	if !ok {
		return
	}

	room, err := ctl.rooms.Create(q.Kind(), a.Participant, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("create matched room")
		ctl.sendTo(a.Participant, "error", map[string]any{"kind": domain.KindOf(err), "detail": "match failed"})
		ctl.sendTo(b.Participant, "error", map[string]any{"kind": domain.KindOf(err), "detail": "match failed"})
		return
	}
	snapB, events, err := ctl.rooms.Join(room.ID, b.Participant)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("join matched room")
		evs, _ := ctl.rooms.Leave(room.ID, a.Participant)
		ctl.deliver(evs)
		// Both entries are already burned; tell both sides so neither
		// waits on a match that will never arrive.
		ctl.sendTo(a.Participant, "error", map[string]any{"kind": domain.KindOf(err), "detail": "match failed"})
		ctl.sendTo(b.Participant, "error", map[string]any{"kind": domain.KindOf(err), "detail": "match failed"})
		return
	}

	ctl.sendTo(a.Participant, "matched", map[string]any{
		"room":     room.ID,
		"code":     room.Code,
		"peer":     b.Participant,
		"snapshot": ctl.rooms.Snapshot(room),
	})
	ctl.sendTo(b.Participant, "matched", map[string]any{
		"room":     room.ID,
		"code":     room.Code,
		"peer":     a.Participant,
		"snapshot": snapB,
	})
	ctl.deliver(events)
	log.Info().Str("module", "gateway").Str("kind", string(q.Kind())).
		Str("room", string(room.ID)).Str("first", string(a.Participant)).
		Str("second", string(b.Participant)).Msg("matched")
}

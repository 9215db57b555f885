// Package rooms holds the per-kind room policies. Each policy plugs the
// same lifecycle interface (create, join, command, leave, snapshot), so
// playback sync, chess, calls and plain chat share one session engine.
package rooms

import (
	"encoding/json"
	"time"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

// Chat is the symmetric 1:1 text relay. The room carries no payload
// beyond membership; messages are never stored.
type Chat struct{}

func NewChat() *Chat { return &Chat{} }

func (Chat) Kind() domain.RoomKind { return domain.KindChat }
func (Chat) Capacity() int         { return 2 }

func (Chat) OnCreate(r *core.Room, _ domain.ParticipantID, _ json.RawMessage) error {
	return nil
}

func (c Chat) OnJoin(r *core.Room, p domain.ParticipantID) ([]core.Event, error) {
	return peerJoined(c, r, p), nil
}

func (c Chat) OnCommand(r *core.Room, actor domain.ParticipantID, cmd core.Command) ([]core.Event, error) {
	if cmd.Name != "message" {
		return nil, domain.Validation("unknown chat command")
	}
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(cmd.Data, &p); err != nil || p.Text == "" {
		return nil, domain.Validation("bad message payload")
	}
	r.Bump()
	body := map[string]any{
		"room": r.ID,
		"from": actor,
		"text": p.Text,
		"ts":   time.Now().UnixMilli(),
	}
	var events []core.Event
	for _, peer := range r.Peers(actor) {
		events = append(events, core.Event{Target: peer, Type: "message", Body: body})
	}
	return events, nil
}

func (Chat) OnLeave(r *core.Room, p domain.ParticipantID) ([]core.Event, core.Disposition) {
	// Symmetric kind: the room dies only when both sides are gone.
	disp := core.KeepRoom
	if len(r.Members) == 0 {
		disp = core.DestroyRoom
	}
	return peerLeft(r, p), disp
}

func (Chat) Snapshot(r *core.Room) any {
	return map[string]any{
		"room":    r.ID,
		"kind":    r.Kind,
		"members": r.Members,
		"version": r.Version,
	}
}

// peerJoined notifies existing members, each with a fresh snapshot.
func peerJoined(pol core.Policy, r *core.Room, p domain.ParticipantID) []core.Event {
	var events []core.Event
	for _, peer := range r.Peers(p) {
		events = append(events, core.Event{
			Target: peer,
			Type:   "peer_joined",
			Body:   map[string]any{"room": r.ID, "participant": p, "snapshot": pol.Snapshot(r)},
		})
	}
	return events
}

func peerLeft(r *core.Room, p domain.ParticipantID) []core.Event {
	var events []core.Event
	for _, peer := range r.Members {
		events = append(events, core.Event{
			Target: peer,
			Type:   "peer_left",
			Body:   map[string]any{"room": r.ID, "participant": p},
		})
	}
	return events
}

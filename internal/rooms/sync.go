package rooms

import (
	"encoding/json"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

// SyncState is the shared playback payload of a watch or sing room.
// The room version doubles as the snapshot version: receivers discard
// anything not newer than what they already applied.
type SyncState struct {
	Media    string  `json:"media"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// Sync is the host-authoritative playback policy. One type serves both
// the watch and sing kinds; only the host's commands are ground truth.
type Sync struct {
	kind domain.RoomKind
}

func NewSync(kind domain.RoomKind) *Sync { return &Sync{kind: kind} }

func (s *Sync) Kind() domain.RoomKind { return s.kind }
func (s *Sync) Capacity() int         { return 2 }

func (s *Sync) OnCreate(r *core.Room, _ domain.ParticipantID, params json.RawMessage) error {
	var p struct {
		Media string `json:"media"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return domain.Validation("bad room params")
		}
	}
	r.State = &SyncState{Media: p.Media}
	return nil
}

func (s *Sync) OnJoin(r *core.Room, p domain.ParticipantID) ([]core.Event, error) {
	return peerJoined(s, r, p), nil
}

func (s *Sync) OnCommand(r *core.Room, actor domain.ParticipantID, cmd core.Command) ([]core.Event, error) {
	if actor != r.Host {
		return nil, domain.Unauthorized("only the host controls playback")
	}
	st := r.State.(*SyncState)
	var p struct {
		Position float64 `json:"position"`
		Media    string  `json:"media"`
	}
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return nil, domain.Validation("bad playback payload")
		}
	}

	switch cmd.Name {
	case "play":
		st.Position = p.Position
		st.Playing = true
	case "pause":
		st.Position = p.Position
		st.Playing = false
	case "seek":
		st.Position = p.Position
	case "set_media":
		if p.Media == "" {
			return nil, domain.Validation("media required")
		}
		st.Media = p.Media
		st.Position = 0
		st.Playing = false
	default:
		return nil, domain.Validation("unknown playback action")
	}
	version := r.Bump()

	// The accepted command is fanned out verbatim as the new snapshot.
	body := map[string]any{
		"room":     r.ID,
		"action":   cmd.Name,
		"media":    st.Media,
		"position": st.Position,
		"playing":  st.Playing,
		"version":  version,
	}
	var events []core.Event
	for _, peer := range r.Peers(actor) {
		events = append(events, core.Event{Target: peer, Type: "sync_state", Body: body})
	}
	return events, nil
}

func (s *Sync) OnLeave(r *core.Room, p domain.ParticipantID) ([]core.Event, core.Disposition) {
	if p == r.Host {
		// Host-authoritative kind: no host, no room.
		var events []core.Event
		for _, peer := range r.Members {
			events = append(events, core.Event{
				Target: peer,
				Type:   "room_closed",
				Body:   map[string]any{"room": r.ID, "reason": "host_left"},
			})
		}
		return events, core.DestroyRoom
	}
	return peerLeft(r, p), core.KeepRoom
}

func (s *Sync) Snapshot(r *core.Room) any {
	st := r.State.(*SyncState)
	return map[string]any{
		"room":     r.ID,
		"kind":     r.Kind,
		"members":  r.Members,
		"host":     r.Host,
		"media":    st.Media,
		"position": st.Position,
		"playing":  st.Playing,
		"version":  r.Version,
	}
}

package rooms

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

const (
	PhaseIdle       = "idle"
	PhaseOfferSent  = "offer-sent"
	PhaseAnswerSent = "answer-sent"
	PhaseConnected  = "connected"
)

// CallState tracks only the negotiation phase. The SDP and candidate
// payloads themselves are opaque to the server and relayed verbatim.
type CallState struct {
	Phase string
}

// Call relays offer/answer/candidate payloads between the two members
// of a video room. Negotiation is gated on both seats being filled, and
// glare is avoided by a stateless initiator rule: the lexicographically
// smaller participant id always sends the first offer, whatever the
// join order was.
type Call struct{}

func NewCall() *Call { return &Call{} }

func (Call) Kind() domain.RoomKind { return domain.KindVideo }
func (Call) Capacity() int         { return 2 }

func (Call) OnCreate(r *core.Room, _ domain.ParticipantID, _ json.RawMessage) error {
	r.State = &CallState{Phase: PhaseIdle}
	return nil
}

func (c Call) OnJoin(r *core.Room, p domain.ParticipantID) ([]core.Event, error) {
	events := peerJoined(c, r, p)
	if len(r.Members) == 2 {
		body := map[string]any{"room": r.ID, "initiator": Initiator(r.Members[0], r.Members[1])}
		for _, m := range r.Members {
			events = append(events, core.Event{Target: m, Type: "room_ready", Body: body})
		}
	}
	return events, nil
}

func (c Call) OnCommand(r *core.Room, actor domain.ParticipantID, cmd core.Command) ([]core.Event, error) {
	if cmd.Name != "signal" {
		return nil, domain.Validation("unknown call command")
	}
	if len(r.Members) < 2 {
		return nil, domain.State("negotiation requires both members")
	}
	var p struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(cmd.Data, &p); err != nil || len(p.Payload) == 0 {
		return nil, domain.Validation("bad signal payload")
	}

	// Payloads must at least have the transport shape; their contents
	// stay opaque to the server.
	st := r.State.(*CallState)
	switch p.Kind {
	case "offer":
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(p.Payload, &sd); err != nil || sd.SDP == "" {
			return nil, domain.Validation("bad session description")
		}
		if actor != Initiator(r.Members[0], r.Members[1]) {
			return nil, domain.Unauthorized("peer is the designated initiator")
		}
		if st.Phase != PhaseIdle {
			return nil, domain.State("offer already sent")
		}
		st.Phase = PhaseOfferSent
	case "answer":
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(p.Payload, &sd); err != nil || sd.SDP == "" {
			return nil, domain.Validation("bad session description")
		}
		if st.Phase != PhaseOfferSent {
			return nil, domain.State("no offer to answer")
		}
		st.Phase = PhaseAnswerSent
	case "candidate":
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Payload, &ci); err != nil || ci.Candidate == "" {
			return nil, domain.Validation("bad ice candidate")
		}
		if st.Phase == PhaseIdle {
			return nil, domain.State("negotiation not started")
		}
		// Trickled candidates after the answer mean both ends are
		// wiring up; treat the channel as established.
		if st.Phase == PhaseAnswerSent {
			st.Phase = PhaseConnected
		}
	default:
		return nil, domain.Validation("unknown signal kind")
	}
	r.Bump()

	var events []core.Event
	for _, peer := range r.Peers(actor) {
		events = append(events, core.Event{
			Target: peer,
			Type:   "signal",
			Body: map[string]any{
				"room":    r.ID,
				"from":    actor,
				"kind":    p.Kind,
				"payload": p.Payload,
			},
		})
	}
	return events, nil
}

func (Call) OnLeave(r *core.Room, p domain.ParticipantID) ([]core.Event, core.Disposition) {
	st := r.State.(*CallState)
	events := peerLeft(r, p)
	if st.Phase != PhaseIdle {
		// Mid-negotiation drop: hang up the survivor and reset.
		st.Phase = PhaseIdle
		for _, peer := range r.Members {
			events = append(events, core.Event{
				Target: peer,
				Type:   "hangup",
				Body:   map[string]any{"room": r.ID, "participant": p},
			})
		}
	}
	if len(r.Members) == 0 {
		return events, core.DestroyRoom
	}
	return events, core.KeepRoom
}

func (Call) Snapshot(r *core.Room) any {
	st := r.State.(*CallState)
	snap := map[string]any{
		"room":    r.ID,
		"kind":    r.Kind,
		"members": r.Members,
		"phase":   st.Phase,
		"version": r.Version,
	}
	if len(r.Members) == 2 {
		snap["initiator"] = Initiator(r.Members[0], r.Members[1])
	}
	return snap
}

// Initiator picks the offer side deterministically and statelessly.
func Initiator(a, b domain.ParticipantID) domain.ParticipantID {
	if a < b {
		return a
	}
	return b
}

package rooms

import (
	"encoding/json"
	"strings"

	"github.com/notnil/chess"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// ChessState wraps the canonical engine game plus seat assignments.
// The engine is the single source of board truth; snapshots expose it
// as FEN plus the UCI move list.
type ChessState struct {
	Game   *chess.Game
	Status string
	White  domain.ParticipantID
	Black  domain.ParticipantID
	Winner domain.ParticipantID
	Reason string
}

// Chess is the turn-based board game policy. Authority is the side to
// move; full rule legality (check, mate, castling, promotion, en
// passant, draw conditions) comes from the engine.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

func (Chess) Kind() domain.RoomKind { return domain.KindChess }
func (Chess) Capacity() int         { return 2 }

func (Chess) OnCreate(r *core.Room, creator domain.ParticipantID, _ json.RawMessage) error {
	r.State = &ChessState{
		Game:   chess.NewGame(chess.UseNotation(chess.UCINotation{})),
		Status: StatusWaiting,
		White:  creator,
	}
	return nil
}

func (c Chess) OnJoin(r *core.Room, p domain.ParticipantID) ([]core.Event, error) {
	st := r.State.(*ChessState)
	if st.Status != StatusWaiting {
		return nil, domain.State("game already started")
	}
	st.Black = p
	st.Status = StatusActive
	return peerJoined(c, r, p), nil
}

func (c Chess) OnCommand(r *core.Room, actor domain.ParticipantID, cmd core.Command) ([]core.Event, error) {
	st := r.State.(*ChessState)
	switch cmd.Name {
	case "move":
		return c.move(r, st, actor, cmd.Data)
	case "resign":
		return c.resign(r, st, actor)
	}
	return nil, domain.Validation("unknown chess command")
}

func (c Chess) move(r *core.Room, st *ChessState, actor domain.ParticipantID, data json.RawMessage) ([]core.Event, error) {
	if st.Status != StatusActive {
		return nil, domain.State("game is not active")
	}
	var p struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.From) != 2 || len(p.To) != 2 {
		return nil, domain.Validation("bad move payload")
	}
	if actor != c.toMove(st) {
		return nil, domain.Unauthorized("not your turn")
	}
	uci := strings.ToLower(p.From + p.To + p.Promotion)
	if err := st.Game.MoveStr(uci); err != nil {
		return nil, domain.Validation("illegal move")
	}
	version := r.Bump()

	if st.Game.Outcome() != chess.NoOutcome {
		st.Status = StatusFinished
		st.Winner, st.Reason = c.verdict(st)
	}

	var events []core.Event
	body := map[string]any{
		"room":    r.ID,
		"board":   st.Game.Position().String(),
		"move":    uci,
		"turn":    c.turnName(st),
		"status":  st.Status,
		"winner":  st.Winner,
		"version": version,
	}
	for _, m := range r.Members {
		events = append(events, core.Event{Target: m, Type: "move_applied", Body: body})
	}
	if st.Status == StatusFinished {
		events = append(events, gameOver(r, st)...)
	}
	return events, nil
}

func (c Chess) resign(r *core.Room, st *ChessState, actor domain.ParticipantID) ([]core.Event, error) {
	if st.Status != StatusActive {
		return nil, domain.State("game is not active")
	}
	color := chess.White
	winner := st.Black
	if actor == st.Black {
		color = chess.Black
		winner = st.White
	}
	st.Game.Resign(color)
	st.Status = StatusFinished
	st.Winner = winner
	st.Reason = "resignation"
	r.Bump()
	return gameOver(r, st), nil
}

func (c Chess) OnLeave(r *core.Room, p domain.ParticipantID) ([]core.Event, core.Disposition) {
	st := r.State.(*ChessState)
	events := peerLeft(r, p)
	if st.Status == StatusActive {
		// A seat dropping mid-game forfeits to the remaining seat.
		st.Status = StatusFinished
		st.Winner = st.White
		if p == st.White {
			st.Winner = st.Black
		}
		st.Reason = "forfeit"
		events = append(events, gameOver(r, st)...)
		return events, core.DestroyRoom
	}
	if st.Status == StatusFinished {
		return events, core.DestroyRoom
	}
	return events, core.KeepRoom
}

func (c Chess) Snapshot(r *core.Room) any {
	st := r.State.(*ChessState)
	moves := make([]string, 0, len(st.Game.Moves()))
	pos := chess.NewGame().Position()
	for _, m := range st.Game.Moves() {
		moves = append(moves, chess.UCINotation{}.Encode(pos, m))
		pos = pos.Update(m)
	}
	return map[string]any{
		"room":    r.ID,
		"kind":    r.Kind,
		"members": r.Members,
		"board":   st.Game.Position().String(),
		"turn":    c.turnName(st),
		"status":  st.Status,
		"white":   st.White,
		"black":   st.Black,
		"winner":  st.Winner,
		"reason":  st.Reason,
		"moves":   moves,
		"version": r.Version,
	}
}

// toMove maps the engine's side to move onto a seat.
func (Chess) toMove(st *ChessState) domain.ParticipantID {
	if st.Game.Position().Turn() == chess.White {
		return st.White
	}
	return st.Black
}

func (Chess) turnName(st *ChessState) string {
	if st.Status == StatusFinished {
		return ""
	}
	if st.Game.Position().Turn() == chess.White {
		return "white"
	}
	return "black"
}

func (Chess) verdict(st *ChessState) (domain.ParticipantID, string) {
	reason := strings.ToLower(st.Game.Method().String())
	switch st.Game.Outcome() {
	case chess.WhiteWon:
		return st.White, reason
	case chess.BlackWon:
		return st.Black, reason
	default:
		return "", reason
	}
}

func gameOver(r *core.Room, st *ChessState) []core.Event {
	body := map[string]any{
		"room":   r.ID,
		"winner": st.Winner,
		"reason": st.Reason,
	}
	var events []core.Event
	for _, m := range r.Members {
		events = append(events, core.Event{Target: m, Type: "game_over", Body: body})
	}
	return events
}

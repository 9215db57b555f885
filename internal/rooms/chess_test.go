package rooms

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
)

func newChessRoom(t *testing.T) (*Chess, *core.Room) {
	t.Helper()
	pol := NewChess()
	r := &core.Room{ID: "g1", Kind: domain.KindChess, Members: []domain.ParticipantID{"white"}, Host: "white"}
	require.NoError(t, pol.OnCreate(r, "white", nil))
	r.Members = append(r.Members, "black")
	r.Bump()
	_, err := pol.OnJoin(r, "black")
	require.NoError(t, err)
	return pol, r
}

func move(from, to string) core.Command {
	return core.Command{
		Name: "move",
		Data: json.RawMessage(fmt.Sprintf(`{"from":%q,"to":%q}`, from, to)),
	}
}

func TestChess_JoinActivatesGame(t *testing.T) {
	_, r := newChessRoom(t)
	st := r.State.(*ChessState)
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, domain.ParticipantID("white"), st.White)
	assert.Equal(t, domain.ParticipantID("black"), st.Black)
}

func TestChess_OpeningMovesFollowStandardRules(t *testing.T) {
	pol, r := newChessRoom(t)

	events, err := pol.OnCommand(r, "white", move("e2", "e4"))
	require.NoError(t, err)
	require.Len(t, events, 2, "move_applied fans to both seats")
	body := events[0].Body.(map[string]any)
	assert.Equal(t, "black", body["turn"])

	_, err = pol.OnCommand(r, "black", move("e7", "e5"))
	require.NoError(t, err)

	snap := pol.Snapshot(r).(map[string]any)
	assert.Equal(t, []string{"e2e4", "e7e5"}, snap["moves"])
	assert.Contains(t, snap["board"], "4p3", "black pawn on e5")
	assert.Equal(t, "white", snap["turn"])
}

func TestChess_MovingOpponentPieceRejected(t *testing.T) {
	pol, r := newChessRoom(t)
	_, err := pol.OnCommand(r, "white", move("e2", "e4"))
	require.NoError(t, err)
	_, err = pol.OnCommand(r, "black", move("e7", "e5"))
	require.NoError(t, err)

	boardBefore := r.State.(*ChessState).Game.Position().String()
	version := r.Version

	// White tries to move a black piece: the engine is on white's turn
	// but d7 holds a black pawn, so the move is simply illegal.
	_, err = pol.OnCommand(r, "white", move("d7", "d5"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrValidation, domain.KindOf(err))
	assert.Equal(t, boardBefore, r.State.(*ChessState).Game.Position().String())
	assert.Equal(t, version, r.Version, "no turn flip, no version bump")
}

func TestChess_OutOfTurnMoveRejected(t *testing.T) {
	pol, r := newChessRoom(t)
	version := r.Version

	_, err := pol.OnCommand(r, "black", move("e7", "e5"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrAuthorization, domain.KindOf(err))
	assert.Equal(t, version, r.Version)
}

func TestChess_ScholarsMateEndsGame(t *testing.T) {
	pol, r := newChessRoom(t)
	seq := []struct {
		actor    domain.ParticipantID
		from, to string
	}{
		{"white", "e2", "e4"}, {"black", "e7", "e5"},
		{"white", "d1", "h5"}, {"black", "b8", "c6"},
		{"white", "f1", "c4"}, {"black", "g8", "f6"},
	}
	for _, m := range seq {
		_, err := pol.OnCommand(r, m.actor, move(m.from, m.to))
		require.NoError(t, err)
	}

	events, err := pol.OnCommand(r, "white", move("h5", "f7"))
	require.NoError(t, err)

	st := r.State.(*ChessState)
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, domain.ParticipantID("white"), st.Winner)
	assert.Equal(t, "checkmate", st.Reason)

	var sawGameOver bool
	for _, ev := range events {
		if ev.Type == "game_over" {
			sawGameOver = true
			body := ev.Body.(map[string]any)
			assert.Equal(t, domain.ParticipantID("white"), body["winner"])
		}
	}
	assert.True(t, sawGameOver)

	// The finished board accepts nothing further.
	_, err = pol.OnCommand(r, "black", move("e8", "e7"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrState, domain.KindOf(err))
}

func TestChess_ResignFinishesForOpponent(t *testing.T) {
	pol, r := newChessRoom(t)

	events, err := pol.OnCommand(r, "white", core.Command{Name: "resign", Data: nil})
	require.NoError(t, err)

	st := r.State.(*ChessState)
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, domain.ParticipantID("black"), st.Winner)
	assert.Equal(t, "resignation", st.Reason)
	require.NotEmpty(t, events)
}

func TestChess_DisconnectForfeitsToRemainingSeat(t *testing.T) {
	pol, r := newChessRoom(t)

	r.Members = []domain.ParticipantID{"white"}
	events, disp := pol.OnLeave(r, "black")

	assert.Equal(t, core.DestroyRoom, disp)
	st := r.State.(*ChessState)
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, domain.ParticipantID("white"), st.Winner)
	assert.Equal(t, "forfeit", st.Reason)

	var sawGameOver bool
	for _, ev := range events {
		if ev.Type == "game_over" && ev.Target == "white" {
			sawGameOver = true
		}
	}
	assert.True(t, sawGameOver)
}

func TestChess_PromotionMove(t *testing.T) {
	pol, r := newChessRoom(t)
	seq := []struct {
		actor    domain.ParticipantID
		from, to string
	}{
		{"white", "h2", "h4"}, {"black", "g7", "g5"},
		{"white", "h4", "g5"}, {"black", "b8", "c6"},
		{"white", "g5", "g6"}, {"black", "c6", "b8"},
		{"white", "g6", "h7"}, {"black", "b8", "c6"},
	}
	for _, m := range seq {
		_, err := pol.OnCommand(r, m.actor, move(m.from, m.to))
		require.NoError(t, err)
	}

	_, err := pol.OnCommand(r, "white", core.Command{
		Name: "move",
		Data: json.RawMessage(`{"from":"h7","to":"g8","promotion":"q"}`),
	})
	require.NoError(t, err)

	snap := pol.Snapshot(r).(map[string]any)
	assert.Contains(t, snap["moves"], "h7g8q")
}

func TestChess_SecondJoinOnActiveGameRejected(t *testing.T) {
	pol, r := newChessRoom(t)
	r.Members = append(r.Members, "intruder")
	_, err := pol.OnJoin(r, "intruder")
	require.Error(t, err)
	assert.Equal(t, domain.ErrState, domain.KindOf(err))
}

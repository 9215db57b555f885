// Package gateway is the per-connection router: it authenticates,
// binds connection to participant, translates inbound intents into
// queue/registry calls and pushes resulting events only to the
// connections of affected participants.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/duet/internal/auth"
	"github.com/dkeye/duet/internal/config"
	"github.com/dkeye/duet/internal/core"
	"github.com/dkeye/duet/internal/domain"
	"github.com/dkeye/duet/internal/queue"
	"github.com/dkeye/duet/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	cfg    *config.Config
	auth   *auth.Manager
	rooms  *registry.Registry
	queues map[domain.RoomKind]*queue.Queue
	valid  *validator.Validate

	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*session
}

func NewController(cfg *config.Config, am *auth.Manager, rooms *registry.Registry, queues map[domain.RoomKind]*queue.Queue) *Controller {
	return &Controller{
		cfg:      cfg,
		auth:     am,
		rooms:    rooms,
		queues:   queues,
		valid:    validator.New(),
		sessions: make(map[domain.ParticipantID]*session),
	}
}

// HandleWS upgrades the request and runs the connection until it drops.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "gateway").Str("sid", string(sid)).Msg("new connection")

	conn := newWSConn(ws)
	sess := ctl.open(sid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		conn.writePump(ctx, ctl.cfg.PingPeriod)
		conn.Close()
	}()
	go func() {
		defer cancel()
		conn.readPump(ctx, ctl.cfg.ReadLimit, sess.handle)
		sess.disconnect()
	}()
}

// open creates the per-connection state machine. Split from HandleWS so
// tests can drive sessions over a fake transport.
func (ctl *Controller) open(sid core.SessionID, conn core.Conn) *session {
	return &session{ctl: ctl, sid: sid, conn: conn}
}

// bind routes future events for p to this session, displacing any
// previous connection of the same participant.
func (ctl *Controller) bind(p domain.ParticipantID, s *session) {
	ctl.mu.Lock()
	prev := ctl.sessions[p]
	ctl.sessions[p] = s
	ctl.mu.Unlock()
	if prev != nil && prev != s {
		prev.conn.Close()
	}
}

func (ctl *Controller) unbind(p domain.ParticipantID, s *session) {
	ctl.mu.Lock()
	if ctl.sessions[p] == s {
		delete(ctl.sessions, p)
	}
	ctl.mu.Unlock()
}

// deliver fans events to the connections of their targets. Targets
// without a live connection are skipped silently; nothing here is ever
// a global broadcast.
func (ctl *Controller) deliver(events []core.Event) {
	for _, ev := range events {
		ctl.sendTo(ev.Target, ev.Type, ev.Body)
	}
}

func (ctl *Controller) sendTo(p domain.ParticipantID, typ string, body any) {
	ctl.mu.RLock()
	s, ok := ctl.sessions[p]
	ctl.mu.RUnlock()
	if !ok {
		return
	}
	s.send(typ, body)
}

// SweepRooms evicts idle rooms and tells any still-connected members
// their room was force-closed.
func (ctl *Controller) SweepRooms(now time.Time) {
	ctl.deliver(ctl.rooms.Sweep(now))
}

// encode flattens a typed message into one wire object.
func encode(typ string, body any) (core.Frame, error) {
	m := map[string]any{"type": typ}
	switch b := body.(type) {
	case nil:
	case map[string]any:
		for k, v := range b {
			m[k] = v
		}
	default:
		m["data"] = body
	}
	return json.Marshal(m)
}

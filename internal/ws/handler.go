package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/auth"
	"github.com/DoyleJ11/chore-rpg-backend/internal/engine"
	"github.com/DoyleJ11/chore-rpg-backend/internal/hub"
	"github.com/DoyleJ11/chore-rpg-backend/internal/room"
	"github.com/DoyleJ11/chore-rpg-backend/pkg/types"
)

// RoomSource resolves a battle id to its live room.
type RoomSource interface {
	Room(ctx context.Context, battleID int64) (*room.Room, error)
}

type Options struct {
	// Verifier, when set, makes a valid token mandatory and pins the connection to its user.
	Verifier       *auth.Verifier
	OriginPatterns []string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	OutboxSize     int
	Log            *zap.Logger
}

func Handler(rooms RoomSource, opts Options) http.HandlerFunc {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 8
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = opts.PingInterval
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var claims *auth.Claims
		if opts.Verifier != nil {
			c, err := opts.Verifier.Verify(auth.TokenFromRequest(r))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims = &c
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := &session{
			id:     uuid.NewString(),
			conn:   conn,
			rooms:  rooms,
			opts:   opts,
			claims: claims,
		}
		s.log = opts.Log.With(zap.String("conn_id", s.id))
		// Transport loss must reach the room before the association is discarded.
		defer s.leave()

		if opts.PingInterval > 0 {
			go s.heartbeat(ctx)
		}
		s.readLoop(ctx)
	}
}

// session is one websocket connection and its (battle, user) association, if any.
type session struct {
	id     string
	conn   *websocket.Conn
	rooms  RoomSource
	opts   Options
	claims *auth.Claims
	log    *zap.Logger

	mu       sync.Mutex
	room     *room.Room
	battleID int64
	userID   int64
	out      chan room.Snapshot
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			// Clean close, going away or a dead link all end the session the same way.
			s.log.Debug("connection closed", zap.Error(err))
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			s.log.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(ctx, cm)
	}
}

func (s *session) dispatch(ctx context.Context, cm types.ClientMessage) {
	if cm.Event == types.EventJoin {
		s.join(ctx, cm.Data)
		return
	}

	rm, userID := s.association()
	if rm == nil {
		s.log.Debug("ignoring intent without a joined battle", zap.String("event", cm.Event))
		return
	}

	switch cm.Event {
	case types.EventGet:
		deliver(ctx, rm, room.Get{ConnID: s.id})
	case types.EventReady:
		deliver(ctx, rm, room.Ready{UserID: userID})
	case types.EventStart:
		deliver(ctx, rm, room.Start{UserID: userID})
	case types.EventAction:
		var ad types.ActionData
		if err := json.Unmarshal(cm.Data, &ad); err != nil {
			s.log.Debug("ignoring malformed action", zap.Error(err))
			return
		}
		action, ok := engine.ParseAction(ad.Type)
		if !ok {
			s.log.Debug("ignoring unknown action", zap.String("type", ad.Type))
			return
		}
		deliver(ctx, rm, room.Act{UserID: userID, Action: action})
	default:
		s.log.Debug("ignoring unknown event", zap.String("event", cm.Event))
	}
}

func (s *session) join(ctx context.Context, data json.RawMessage) {
	var jd types.JoinData
	if err := json.Unmarshal(data, &jd); err != nil {
		s.log.Debug("ignoring malformed join", zap.Error(err))
		return
	}
	userID := jd.User.ID
	if s.claims != nil {
		userID = s.claims.ID
	}
	if jd.BattleID == 0 || userID == 0 {
		s.log.Debug("ignoring join without battle or user")
		return
	}

	rm, err := s.rooms.Room(ctx, jd.BattleID)
	if err != nil {
		if errors.Is(err, hub.ErrUnknownBattle) {
			s.sendError(ctx, "unknown battle")
			return
		}
		s.log.Error("join failed", zap.Int64("battle_id", jd.BattleID), zap.Error(err))
		s.sendError(ctx, "join failed")
		return
	}

	s.mu.Lock()
	same := s.room == rm && s.userID == userID
	s.mu.Unlock()

	// Re-joining the same seat keeps the registered outbox; anything else leaves the old room first.
	var out chan room.Snapshot
	if !same {
		s.leave()
		out = make(chan room.Snapshot, s.opts.OutboxSize)
	}

	reply := make(chan error, 1)
	if !deliver(ctx, rm, room.Join{ConnID: s.id, UserID: userID, Outbox: out, Reply: reply}) {
		s.sendError(ctx, "join failed")
		return
	}
	select {
	case err = <-reply:
	case <-rm.Done():
		err = hub.ErrHubClosed
	case <-ctx.Done():
		return
	}
	if err != nil {
		if room.IsRefused(err) {
			s.sendError(ctx, "unknown user")
		} else {
			s.sendError(ctx, "join failed")
		}
		return
	}
	if same {
		return
	}

	s.mu.Lock()
	s.room, s.battleID, s.userID, s.out = rm, jd.BattleID, userID, out
	s.mu.Unlock()

	go s.writeLoop(ctx, out)
}

func (s *session) association() (*room.Room, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.userID
}

// leave clears the association and tells the room. Safe to call without one.
func (s *session) leave() {
	s.mu.Lock()
	rm, userID := s.room, s.userID
	s.room, s.battleID, s.userID, s.out = nil, 0, 0, nil
	s.mu.Unlock()

	if rm != nil {
		deliver(context.Background(), rm, room.Leave{ConnID: s.id, UserID: userID})
	}
}

// deliver hands m to rm unless the room has stopped or ctx is done.
func deliver(ctx context.Context, rm *room.Room, m room.Msg) bool {
	select {
	case rm.Inbox() <- m:
		return true
	case <-rm.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// writeLoop forwards one association's snapshots until the room closes the outbox.
func (s *session) writeLoop(ctx context.Context, out <-chan room.Snapshot) {
	for snap := range out {
		payload, err := json.Marshal(types.ServerMessage{
			Event: types.EventState,
			Data:  types.StateData{Version: snap.Version, Battle: snap.Battle},
		})
		if err != nil {
			s.log.Error("encode state", zap.Error(err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		err = s.conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			s.log.Debug("write failed, closing connection", zap.Error(err))
			s.conn.CloseNow()
			return
		}
	}

	// Closed while still associated: the room dropped us as a slow consumer.
	s.mu.Lock()
	dropped := s.out != nil && (<-chan room.Snapshot)(s.out) == out
	s.mu.Unlock()
	if dropped {
		s.conn.Close(websocket.StatusTryAgainLater, "too slow")
	}
}

func (s *session) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.PingTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.log.Debug("ping failed, closing connection", zap.Error(err))
				s.conn.CloseNow()
				return
			}
		}
	}
}

func (s *session) sendError(ctx context.Context, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Event: types.EventError, Data: types.ErrorData{Message: msg}})
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	_ = s.conn.Write(wctx, websocket.MessageText, payload)
}

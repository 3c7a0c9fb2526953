package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/engine"
	"github.com/DoyleJ11/chore-rpg-backend/internal/ledger"
	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
	"github.com/DoyleJ11/chore-rpg-backend/pkg/types"
)

// ErrNotRegistered rejects a re-join from a connection the room no longer holds.
var ErrNotRegistered = errors.New("connection not registered")

// StatsLoader fetches the base stats a participant is created from.
type StatsLoader interface {
	FindUserCombatStats(ctx context.Context, userID int64) (storage.CombatStats, error)
}

// DamageSink receives accepted damage for durable recording. Submit must not block.
type DamageSink interface {
	Submit(e ledger.Entry) bool
}

type Deps struct {
	Stats       StatsLoader
	Ledger      DamageSink
	Roller      engine.Roller
	Log         *zap.Logger
	LoadTimeout time.Duration
}

type Msg interface{ isRoomMsg() }

// Join registers a connection for userID and adds or reconnects the participant.
// Reply receives nil or the reason the join was refused.
type Join struct {
	ConnID string
	UserID int64
	Outbox chan Snapshot // where this connection wants to receive snapshots; nil keeps the registered one
	Reply  chan error
}

func (Join) isRoomMsg() {}

// Get re-sends the current snapshot to one connection.
type Get struct{ ConnID string }

func (Get) isRoomMsg() {}

type Ready struct{ UserID int64 }

func (Ready) isRoomMsg() {}

type Start struct{ UserID int64 }

func (Start) isRoomMsg() {}

type Act struct {
	UserID int64
	Action engine.ActionType
}

func (Act) isRoomMsg() {}

// Leave drops a connection. The participant is marked disconnected once their last connection leaves.
type Leave struct {
	ConnID string
	UserID int64
}

func (Leave) isRoomMsg() {}

// End is the external override that closes the battle.
type End struct{ Reply chan error }

func (End) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Snapshot struct {
	Version int
	Battle  types.BattleView
}

type View struct {
	Version    int
	NumClients int
	Battle     types.BattleView
}

type client struct {
	userID int64
	outbox chan Snapshot
}

type Room struct {
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]client
	deps    Deps
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, battleID int64, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Roller == nil {
		deps.Roller = engine.DiceRoller
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.LoadTimeout <= 0 {
		deps.LoadTimeout = 5 * time.Second
	}

	r := &Room{
		inbox:   make(chan Msg, 64),
		state:   engine.NewState(battleID),
		clients: make(map[string]client),
		deps:    deps,
		log:     deps.Log.Named("room").With(zap.Int64("battle_id", battleID)),
		ctx:     ctx,
		cancel:  cancel,
	}

	go r.loop()
	return r
}

func (r *Room) BattleID() int64 { return r.state.BattleID }

// Expose the inbox so the ws layer and tests can send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has stopped reading its inbox.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				err := r.join(msg)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case Get:
				if c, ok := r.clients[msg.ConnID]; ok {
					r.send(msg.ConnID, c, r.snapshot())
				}

			case Ready:
				r.apply(engine.Command{Type: engine.CmdReady, UserID: msg.UserID})

			case Start:
				r.apply(engine.Command{Type: engine.CmdStart, UserID: msg.UserID})

			case Act:
				r.apply(engine.Command{Type: engine.CmdAct, UserID: msg.UserID, Action: msg.Action})

			case Leave:
				if c, ok := r.clients[msg.ConnID]; ok {
					delete(r.clients, msg.ConnID)
					close(c.outbox)
				}
				if !r.connected(msg.UserID) {
					r.apply(engine.Command{Type: engine.CmdDisconnect, UserID: msg.UserID})
				}

			case End:
				err := r.apply(engine.Command{Type: engine.CmdEnd})
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					Battle:     r.view(),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) join(msg Join) error {
	if msg.Outbox == nil {
		if c, ok := r.clients[msg.ConnID]; !ok || c.userID != msg.UserID {
			return ErrNotRegistered
		}
		return r.apply(engine.Command{Type: engine.CmdJoin, UserID: msg.UserID})
	}

	cmd := engine.Command{Type: engine.CmdJoin, UserID: msg.UserID}
	if !r.state.Has(msg.UserID) {
		ctx, cancel := context.WithTimeout(r.ctx, r.deps.LoadTimeout)
		stats, err := r.deps.Stats.FindUserCombatStats(ctx, msg.UserID)
		cancel()
		if err != nil {
			r.log.Warn("join refused: participant snapshot unavailable", zap.Int64("user_id", msg.UserID), zap.Error(err))
			return fmt.Errorf("load participant %d: %w", msg.UserID, err)
		}
		cmd.Profile = engine.Profile{
			UserID:  stats.UserID,
			Name:    stats.Name,
			HP:      stats.HP,
			Attack:  stats.Attack,
			Defense: stats.Defense,
			Speed:   stats.Speed,
		}
	}

	if prev, ok := r.clients[msg.ConnID]; ok && prev.outbox != msg.Outbox {
		close(prev.outbox)
	}
	r.clients[msg.ConnID] = client{userID: msg.UserID, outbox: msg.Outbox}
	return r.apply(cmd)
}

// apply runs cmd through the engine. Rejected commands are dropped without a broadcast.
func (r *Room) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(r.state, cmd, r.deps.Roller)
	if err != nil {
		r.log.Debug("command ignored",
			zap.String("command", string(cmd.Type)),
			zap.Int64("user_id", cmd.UserID),
			zap.Error(err))
		return err
	}
	r.state = next

	for _, e := range events {
		if e.Type != engine.EvtDamageDealt {
			continue
		}
		// The turn has already advanced; a failed write is logged by the ledger, never rolled back here.
		if r.deps.Ledger != nil {
			r.deps.Ledger.Submit(ledger.NewEntry(r.state.BattleID, e.UserID, e.Damage))
		}
	}

	r.version++
	r.broadcast(r.snapshot())
	return nil
}

func (r *Room) connected(userID int64) bool {
	for _, c := range r.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

func (r *Room) shutdown() {
	for id, c := range r.clients {
		close(c.outbox) // Tell client no more snapshots
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) broadcast(snap Snapshot) {
	for id, c := range r.clients {
		r.send(id, c, snap)
	}
}

func (r *Room) send(id string, c client, snap Snapshot) {
	select {
	case c.outbox <- snap:
		//ok
	default:
		// Client is slow/full - drop them.
		r.log.Info("dropping slow connection", zap.String("conn_id", id), zap.Int64("user_id", c.userID))
		close(c.outbox)
		delete(r.clients, id)
	}
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{Version: r.version, Battle: r.view()}
}

// view copies the state so snapshots can leave the room goroutine.
func (r *Room) view() types.BattleView {
	s := r.state
	v := types.BattleView{
		BattleID:     s.BattleID,
		Status:       string(s.Status),
		Round:        s.Round,
		TurnIndex:    s.TurnIndex,
		Order:        append([]int64{}, s.Order...),
		Participants: make([]types.ParticipantView, 0, len(s.Joined)),
	}
	for _, id := range s.Joined {
		p, ok := s.Participants[id]
		if !ok {
			continue
		}
		pv := types.ParticipantView{
			UserID:    p.UserID,
			Name:      p.Name,
			HP:        p.HP,
			Attack:    p.Attack,
			Defense:   p.Defense,
			Speed:     p.Speed,
			Ready:     p.Ready,
			Connected: p.Connected,
		}
		if p.Last != nil {
			pv.Last = &types.LastView{Type: string(p.Last.Type), Roll: p.Last.Roll, Dmg: p.Last.Dmg}
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}

// IsRefused reports whether a Join reply means the user could not be materialised.
func IsRefused(err error) bool {
	return errors.Is(err, storage.ErrUserNotFound)
}

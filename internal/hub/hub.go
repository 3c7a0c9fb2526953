package hub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/chore-rpg-backend/internal/room"
	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
)

var ErrUnknownBattle = errors.New("unknown battle")
var ErrHubClosed = errors.New("hub closed")

// BattleFinder looks up the durable battle record a room is hydrated from.
type BattleFinder interface {
	FindBattle(ctx context.Context, battleID int64) (storage.BattleRecord, error)
}

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	BattleID int64
	Reply    chan *room.Room
}

// EnsureRoom returns the registered room, creating it if absent.
type EnsureRoom struct {
	BattleID int64
	Reply    chan *room.Room
}

type ShutdownHub struct{}

func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub is the process-wide registry of live battle rooms. The rooms map is owned
// by the loop goroutine, so each battle id maps to exactly one room.
type Hub struct {
	inbox   chan HubMsg
	rooms   map[int64]*room.Room
	battles BattleFinder
	deps    room.Deps
	group   singleflight.Group
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	hydrateTimeout time.Duration
}

func NewHub(parent context.Context, battles BattleFinder, deps room.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	hydrateTimeout := deps.LoadTimeout
	if hydrateTimeout <= 0 {
		hydrateTimeout = 5 * time.Second
	}
	h := &Hub{
		inbox:          make(chan HubMsg, 64),
		rooms:          make(map[int64]*room.Room),
		battles:        battles,
		deps:           deps,
		log:            log.Named("hub"),
		ctx:            ctx,
		cancel:         cancel,
		hydrateTimeout: hydrateTimeout,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Room returns the live room for battleID, hydrating it from the battle record on first use.
// Concurrent first calls for the same id share one lookup and one room. The lookup is not
// bound to any caller's ctx; ctx only limits how long this caller waits for it.
func (h *Hub) Room(ctx context.Context, battleID int64) (*room.Room, error) {
	if r := h.Lookup(battleID); r != nil {
		return r, nil
	}

	ch := h.group.DoChan(strconv.FormatInt(battleID, 10), func() (any, error) {
		return h.hydrate(battleID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*room.Room), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) hydrate(battleID int64) (*room.Room, error) {
	if r := h.Lookup(battleID); r != nil {
		return r, nil
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.hydrateTimeout)
	defer cancel()
	if _, err := h.battles.FindBattle(ctx, battleID); err != nil {
		if errors.Is(err, storage.ErrBattleNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBattle, battleID)
		}
		return nil, fmt.Errorf("hydrate battle %d: %w", battleID, err)
	}
	r := h.request(EnsureRoom{BattleID: battleID, Reply: make(chan *room.Room, 1)})
	if r == nil {
		return nil, ErrHubClosed
	}
	h.log.Info("battle room hydrated", zap.Int64("battle_id", battleID))
	return r, nil
}

// Lookup returns the live room without touching storage. It may be nil.
func (h *Hub) Lookup(battleID int64) *room.Room {
	return h.request(GetRoom{BattleID: battleID, Reply: make(chan *room.Room, 1)})
}

// Shutdown stops the hub and every room it owns.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) request(m HubMsg) *room.Room {
	var reply chan *room.Room
	switch msg := m.(type) {
	case GetRoom:
		reply = msg.Reply
	case EnsureRoom:
		reply = msg.Reply
	}

	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			// Rooms share h.ctx and stop on their own.
			clear(h.rooms)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.rooms[msg.BattleID] // May be nil

			case EnsureRoom:
				if r := h.rooms[msg.BattleID]; r != nil {
					msg.Reply <- r
					break
				}

				r := room.New(h.ctx, msg.BattleID, h.deps)
				h.rooms[msg.BattleID] = r
				msg.Reply <- r

			case ShutdownHub:
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/chore-rpg-backend/internal/room"
	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
)

type fakeBattles struct {
	known map[int64]bool
	calls atomic.Int32
	delay time.Duration
	gate  chan struct{}
	err   error
}

func (f *fakeBattles) FindBattle(ctx context.Context, battleID int64) (storage.BattleRecord, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return storage.BattleRecord{}, ctx.Err()
		}
	}
	if f.err != nil {
		return storage.BattleRecord{}, f.err
	}
	if !f.known[battleID] {
		return storage.BattleRecord{}, storage.ErrBattleNotFound
	}
	return storage.BattleRecord{BattleID: battleID}, nil
}

func newTestHub(t *testing.T, battles *fakeBattles) *Hub {
	t.Helper()
	h := NewHub(context.Background(), battles, room.Deps{})
	t.Cleanup(h.Shutdown)
	return h
}

func TestHub_Room_Lookup_SamePointer(t *testing.T) {
	h := newTestHub(t, &fakeBattles{known: map[int64]bool{123: true}})

	r1, err := h.Room(context.Background(), 123)
	require.NoError(t, err)
	r2, err := h.Room(context.Background(), 123)
	require.NoError(t, err)

	if r1 == nil || r2 == nil || r1 != r2 || h.Lookup(123) != r1 {
		t.Fatalf("expected same room pointer")
	}
	assert.Equal(t, int64(123), r1.BattleID())
}

func TestHub_Room_UnknownBattle(t *testing.T) {
	h := newTestHub(t, &fakeBattles{known: map[int64]bool{}})

	_, err := h.Room(context.Background(), 9)
	assert.ErrorIs(t, err, ErrUnknownBattle)
	assert.Nil(t, h.Lookup(9))
}

func TestHub_Room_StorageErrorIsNotUnknown(t *testing.T) {
	h := newTestHub(t, &fakeBattles{err: errors.New("db down")})

	_, err := h.Room(context.Background(), 9)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownBattle)
}

func TestHub_Room_ConcurrentFirstAccessHydratesOnce(t *testing.T) {
	battles := &fakeBattles{known: map[int64]bool{5: true}, delay: 20 * time.Millisecond}
	h := newTestHub(t, battles)

	const callers = 16
	rooms := make([]*room.Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.Room(context.Background(), 5)
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		require.Same(t, rooms[0], rooms[i])
	}
	assert.Equal(t, int32(1), battles.calls.Load())
}

func TestHub_Room_CancelledCallerDoesNotFailOthers(t *testing.T) {
	battles := &fakeBattles{known: map[int64]bool{9: true}, gate: make(chan struct{})}
	h := newTestHub(t, battles)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := h.Room(ctxA, 9)
		errA <- err
	}()
	require.Eventually(t, func() bool { return battles.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		r   *room.Room
		err error
	}
	resB := make(chan result, 1)
	go func() {
		r, err := h.Room(context.Background(), 9)
		resB <- result{r, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(battles.gate)
	res := <-resB
	require.NoError(t, res.err)
	require.NotNil(t, res.r)
	assert.Same(t, h.Lookup(9), res.r)
	assert.Equal(t, int32(1), battles.calls.Load())
}

func TestHub_EnsureRoom_Idempotent(t *testing.T) {
	h := newTestHub(t, &fakeBattles{})

	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{BattleID: 1, Reply: reply}
	r1 := <-reply
	h.Inbox() <- EnsureRoom{BattleID: 1, Reply: reply}
	r2 := <-reply

	require.NotNil(t, r1)
	assert.Same(t, r1, r2)
}

func TestHub_ShutdownStopsRequests(t *testing.T) {
	h := NewHub(context.Background(), &fakeBattles{known: map[int64]bool{1: true}}, room.Deps{})
	h.Shutdown()

	require.Eventually(t, func() bool { return h.ctx.Err() != nil }, time.Second, time.Millisecond)
	assert.Nil(t, h.Lookup(1))
	_, err := h.Room(context.Background(), 1)
	assert.Error(t, err)
}

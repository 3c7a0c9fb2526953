package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
)

// fakeStore applies each key once, like the real ledger, and can fail the first calls.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	calls    []string
	applied  map[string]bool
	totals   map[int64]int
	block    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{applied: map[string]bool{}, totals: map[int64]int{}}
}

func (f *fakeStore) AddDamage(ctx context.Context, key string, battleID, userID int64, amount int) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if amount < 0 {
		return storage.ErrNegativeDamage
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	if !f.applied[key] {
		f.applied[key] = true
		f.totals[userID] += amount
	}
	return nil
}

func (f *fakeStore) snapshot() ([]string, map[int64]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := make(map[int64]int, len(f.totals))
	for k, v := range f.totals {
		totals[k] = v
	}
	return append([]string(nil), f.calls...), totals
}

func testOptions() Options {
	return Options{QueueSize: 8, MaxAttempts: 3, RetryInterval: time.Millisecond, WriteTimeout: time.Second}
}

func TestWriter_CloseDrainsQueue(t *testing.T) {
	store := newFakeStore()
	w := NewWriter(context.Background(), store, testOptions(), zap.NewNop())

	require.True(t, w.Submit(NewEntry(1, 7, 5)))
	require.True(t, w.Submit(NewEntry(1, 7, 3)))
	w.Close()

	_, totals := store.snapshot()
	assert.Equal(t, 8, totals[7])
}

func TestWriter_RetriesWithSameKey(t *testing.T) {
	store := newFakeStore()
	store.failures = 2
	w := NewWriter(context.Background(), store, testOptions(), zap.NewNop())

	e := NewEntry(1, 7, 5)
	require.True(t, w.Submit(e))
	w.Close()

	calls, totals := store.snapshot()
	assert.Equal(t, []string{e.Key, e.Key, e.Key}, calls)
	assert.Equal(t, 5, totals[7])
}

func TestWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newFakeStore()
	store.failures = 10
	w := NewWriter(context.Background(), store, testOptions(), zap.NewNop())

	require.True(t, w.Submit(NewEntry(1, 7, 5)))
	w.Close()

	calls, totals := store.snapshot()
	assert.Len(t, calls, 3)
	assert.Zero(t, totals[7])
}

func TestWriter_NegativeIsNotRetried(t *testing.T) {
	store := newFakeStore()
	w := NewWriter(context.Background(), store, testOptions(), zap.NewNop())

	require.True(t, w.Submit(NewEntry(1, 7, -2)))
	w.Close()

	calls, _ := store.snapshot()
	assert.Len(t, calls, 1)
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	opts := testOptions()
	opts.QueueSize = 1
	w := NewWriter(context.Background(), store, opts, zap.NewNop())

	// First entry is picked up by the worker and blocks; the second fills the queue.
	require.True(t, w.Submit(NewEntry(1, 7, 1)))
	require.Eventually(t, func() bool { return len(w.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, w.Submit(NewEntry(1, 7, 1)))
	assert.False(t, w.Submit(NewEntry(1, 7, 1)))

	close(store.block)
	w.Close()

	_, totals := store.snapshot()
	assert.Equal(t, 2, totals[7])
}

func TestWriter_SubmitAfterClose(t *testing.T) {
	w := NewWriter(context.Background(), newFakeStore(), testOptions(), zap.NewNop())
	w.Close()
	w.Close()
	assert.False(t, w.Submit(NewEntry(1, 7, 1)))
}

func TestNewEntry_UniqueKeys(t *testing.T) {
	a, b := NewEntry(1, 2, 3), NewEntry(1, 2, 3)
	assert.NotEqual(t, a.Key, b.Key)
}

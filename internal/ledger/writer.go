// Package ledger persists damage contributions off the room's hot path.
//
// Rooms hand accepted attacks to a Writer and move on; the Writer applies them
// to the durable ledger in the background. Every Entry carries a key so a
// retried write is applied at most once.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
)

var ErrClosed = errors.New("ledger writer closed")

// Store is the durable side of the ledger.
type Store interface {
	AddDamage(ctx context.Context, key string, battleID, userID int64, amount int) error
}

type Entry struct {
	Key      string
	BattleID int64
	UserID   int64
	Amount   int
}

// NewEntry stamps a fresh idempotency key on an increment.
func NewEntry(battleID, userID int64, amount int) Entry {
	return Entry{Key: uuid.NewString(), BattleID: battleID, UserID: userID, Amount: amount}
}

type Options struct {
	QueueSize     int
	MaxAttempts   uint
	RetryInterval time.Duration
	WriteTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 1
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type Writer struct {
	store Store
	opts  Options
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// NewWriter starts the background worker. ctx bounds in-flight writes; cancel it
// only after Close if queued entries should still be flushed.
func NewWriter(ctx context.Context, store Store, opts Options, log *zap.Logger) *Writer {
	opts = opts.withDefaults()
	w := &Writer{
		store: store,
		opts:  opts,
		log:   log.Named("ledger"),
		queue: make(chan Entry, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go w.loop(ctx)
	return w
}

// Submit queues e without blocking. It reports false when the entry was dropped.
func (w *Writer) Submit(e Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Error("persistence failure: damage dropped", append(entryFields(e), zap.Error(ErrClosed))...)
		return false
	}
	select {
	case w.queue <- e:
		return true
	default:
		w.log.Error("persistence failure: ledger queue full, damage dropped", entryFields(e)...)
		return false
	}
}

// Close stops accepting entries and waits until the queue is drained.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	for e := range w.queue {
		w.write(ctx, e)
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.RetryInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		wctx, cancel := context.WithTimeout(ctx, w.opts.WriteTimeout)
		defer cancel()
		err := w.store.AddDamage(wctx, e.Key, e.BattleID, e.UserID, e.Amount)
		if errors.Is(err, storage.ErrNegativeDamage) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			w.log.Warn("ledger write failed", append(entryFields(e), zap.Int("attempt", attempt), zap.Error(err))...)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(w.opts.MaxAttempts))

	if err != nil {
		w.log.Error("persistence failure: damage not recorded", append(entryFields(e), zap.Error(err))...)
	}
}

func entryFields(e Entry) []zap.Field {
	return []zap.Field{
		zap.String("key", e.Key),
		zap.Int64("battle_id", e.BattleID),
		zap.Int64("user_id", e.UserID),
		zap.Int("amount", e.Amount),
	}
}

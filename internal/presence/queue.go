package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/mailbox"
)

// ErrQueueFull is returned when an update cannot be queued without waiting.
var ErrQueueFull = errors.New("presence queue full")

type update struct {
	entry  Entry
	online bool
}

// Queue is a Store that applies updates to another Store on its own goroutine,
// so a caller never waits on Redis or Postgres. Updates are applied in the
// order they were queued.
type Queue struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	updates *mailbox.Mailbox[update]
	stopped chan struct{}
}

// NewQueue creates a queue in front of store. Each store call is bounded by
// timeout.
//
// Precondition: capacity > 0; timeout > 0; store and logger must be non-nil.
func NewQueue(store Store, capacity int, timeout time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		store:   store,
		timeout: timeout,
		logger:  logger,
		updates: mailbox.New[update](capacity),
		stopped: make(chan struct{}),
	}
}

// Online queues e. It never blocks.
//
// Postcondition: Returns ErrQueueFull when the queue is full and
// mailbox.ErrClosed after Close.
func (q *Queue) Online(_ context.Context, e Entry) error {
	return q.submit(update{entry: e, online: true})
}

// Offline queues the removal of a character's record. It never blocks.
func (q *Queue) Offline(_ context.Context, accountID, characterID uint64) error {
	return q.submit(update{entry: Entry{AccountID: accountID, CharacterID: characterID}})
}

func (q *Queue) submit(u update) error {
	if q.updates.TrySend(u) {
		return nil
	}
	if q.updates.Closed() {
		return mailbox.ErrClosed
	}
	return ErrQueueFull
}

// Run applies queued updates until Close, then applies whatever is still queued.
func (q *Queue) Run() {
	defer close(q.stopped)
	for {
		select {
		case u := <-q.updates.Receive():
			q.apply(u)
		case <-q.updates.Done():
			for _, u := range q.updates.Drain(nil, q.updates.Cap()) {
				q.apply(u)
			}
			return
		}
	}
}

// Close stops accepting updates and waits for Run to finish.
//
// Precondition: Run has been started.
func (q *Queue) Close() {
	q.updates.Close()
	<-q.stopped
}

func (q *Queue) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var err error
	if u.online {
		err = q.store.Online(ctx, u.entry)
	} else {
		err = q.store.Offline(ctx, u.entry.AccountID, u.entry.CharacterID)
	}
	if err != nil {
		q.logger.Warn("presence update failed",
			zap.Uint64("account", u.entry.AccountID),
			zap.Uint64("character", u.entry.CharacterID),
			zap.Bool("online", u.online),
			zap.Error(err),
		)
	}
}

package service

import (
	"context"
	"fmt"
	"sync"

	"tvcast/internal/domain"
	"tvcast/internal/metrics"
	"tvcast/internal/models"
	"tvcast/internal/ws"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const DefaultOfflineCapacity = 50

// OfflineQueue holds payloads for users without a live session and replays them on reconnect.
// Every operation on one user runs under that user's lock, so routing a payload and draining
// the backlog never interleave.
type OfflineQueue struct {
	mu       sync.Mutex
	users    map[uint]*userQueue
	capacity int

	transport Transport
	store     NotificationStore
	clock     clockwork.Clock
	log       *zap.Logger
}

type userQueue struct {
	mu      sync.Mutex
	entries []QueueEntry
	refs    int // guarded by OfflineQueue.mu
}

func NewOfflineQueue(transport Transport, store NotificationStore, capacity int, clock clockwork.Clock, log *zap.Logger) *OfflineQueue {
	if capacity <= 0 {
		capacity = DefaultOfflineCapacity
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OfflineQueue{
		users:     make(map[uint]*userQueue),
		capacity:  capacity,
		transport: transport,
		store:     store,
		clock:     clock,
		log:       log,
	}
}

func (q *OfflineQueue) acquire(userID uint) *userQueue {
	q.mu.Lock()
	uq := q.users[userID]
	if uq == nil {
		uq = &userQueue{}
		q.users[userID] = uq
	}
	uq.refs++
	q.mu.Unlock()
	uq.mu.Lock()
	return uq
}

func (q *OfflineQueue) release(userID uint, uq *userQueue) {
	q.mu.Lock()
	uq.refs--
	if uq.refs == 0 && len(uq.entries) == 0 {
		delete(q.users, userID)
	}
	q.mu.Unlock()
	uq.mu.Unlock()
}

func (q *OfflineQueue) Enqueue(userID uint, entry QueueEntry) {
	uq := q.acquire(userID)
	defer q.release(userID, uq)
	q.enqueueLocked(userID, uq, entry)
}

func (q *OfflineQueue) enqueueLocked(userID uint, uq *userQueue, entry QueueEntry) {
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = q.clock.Now()
	}
	uq.entries = append(uq.entries, entry)
	if over := len(uq.entries) - q.capacity; over > 0 {
		uq.entries = append(uq.entries[:0:0], uq.entries[over:]...)
		metrics.OfflineEvictions.Add(float64(over))
		q.log.Debug("offline queue full, evicted oldest",
			zap.Uint("user_id", userID), zap.Int("evicted", over))
	}
}

// Dispatch publishes entry to the user when online and queues it otherwise. It reports
// whether the payload reached a live session.
func (q *OfflineQueue) Dispatch(ctx context.Context, userID uint, entry QueueEntry) bool {
	uq := q.acquire(userID)
	defer q.release(userID, uq)

	if q.transport.IsOnline(ctx, userID) {
		err := q.transport.Publish(ctx, ws.User(userID), entry.Event, entry.Payload)
		if err == nil {
			return true
		}
		q.log.Warn("realtime publish failed, queueing",
			zap.Uint("user_id", userID), zap.Uint("notification_id", entry.NotificationID), zap.Error(err))
	}
	q.enqueueLocked(userID, uq, entry)
	return false
}

// Drain replays the user's backlog as offline notifications and marks the rows delivered.
// With nothing in memory it replays undelivered rows from the store instead. Entries whose
// publish fails stay queued.
func (q *OfflineQueue) Drain(ctx context.Context, userID uint) (int, error) {
	uq := q.acquire(userID)
	defer q.release(userID, uq)

	source := "memory"
	entries := uq.entries
	if len(entries) == 0 {
		source = "store"
		rows, err := q.store.ListUndelivered(ctx, userID, q.capacity)
		if err != nil {
			return 0, fmt.Errorf("drain offline queue: %w", err)
		}
		entries = make([]QueueEntry, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, QueueEntry{
				NotificationID: row.ID,
				Event:          rowEvent(row),
				Payload:        payloadFromRow(row),
			})
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var (
		delivered []uint
		kept      []QueueEntry
	)
	for i, e := range entries {
		p := e.Payload
		p.Replay = true
		p.Kind = e.Event
		if err := q.transport.Publish(ctx, ws.User(userID), domain.EventOfflineNotification, p); err != nil {
			q.log.Warn("replay failed", zap.Uint("user_id", userID), zap.Error(err))
			if source == "memory" {
				kept = append(kept, entries[i:]...)
			}
			break
		}
		delivered = append(delivered, e.NotificationID)
	}
	if source == "memory" {
		uq.entries = kept
	}
	metrics.OfflineReplays.WithLabelValues(source).Add(float64(len(delivered)))

	if _, err := q.store.MarkDeliveredForUser(ctx, userID, delivered, q.clock.Now()); err != nil {
		return len(delivered), fmt.Errorf("drain offline queue: %w", err)
	}
	q.log.Debug("offline backlog replayed",
		zap.Uint("user_id", userID), zap.String("source", source), zap.Int("count", len(delivered)))
	return len(delivered), nil
}

func (q *OfflineQueue) Len(userID uint) int {
	uq := q.acquire(userID)
	defer q.release(userID, uq)
	return len(uq.entries)
}

func rowEvent(row models.UserNotification) string {
	if row.Type == domain.TypeStatusBar {
		return domain.EventStatusBarNotification
	}
	return domain.EventNewNotification
}

func payloadFromRow(row models.UserNotification) NotificationPayload {
	p := NotificationPayload{
		ID:        row.ID,
		Title:     row.Title,
		Message:   row.Message,
		Type:      row.Type,
		CreatedAt: row.CreatedAt,
	}
	applyPriority(&p, row.Priority)
	return p
}

func applyPriority(p *NotificationPayload, priority string) {
	if priority == "" {
		return
	}
	p.Priority = priority
	d, ok := domain.AutoHide(priority)
	if !ok {
		return
	}
	if d == 0 {
		p.Persistent = true
		return
	}
	ms := d.Milliseconds()
	p.AutoHideMs = &ms
}

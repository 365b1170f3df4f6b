package service

import (
	"context"
	"fmt"

	"tvcast/internal/metrics"
	"tvcast/internal/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MarkResult carries the record after a transition; Already is set when nothing changed.
type MarkResult struct {
	Record  *models.DeliveryRecord
	Already bool
}

// ReadClickTracker records read and click state. Repeats are reported, not rejected.
type ReadClickTracker struct {
	store NotificationStore
	clock clockwork.Clock
	log   *zap.Logger
}

func NewReadClickTracker(store NotificationStore, clock clockwork.Clock, log *zap.Logger) *ReadClickTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReadClickTracker{store: store, clock: clock, log: log}
}

func (t *ReadClickTracker) MarkRead(ctx context.Context, userID, notificationID uint) (*MarkResult, error) {
	changed, err := t.store.MarkRead(ctx, userID, notificationID, t.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return t.result(ctx, "read", userID, notificationID, changed)
}

// MarkClicked also marks the row read, keeping an earlier read time.
func (t *ReadClickTracker) MarkClicked(ctx context.Context, userID, notificationID uint) (*MarkResult, error) {
	changed, err := t.store.MarkClicked(ctx, userID, notificationID, t.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("mark clicked: %w", err)
	}
	return t.result(ctx, "click", userID, notificationID, changed)
}

func (t *ReadClickTracker) result(ctx context.Context, action string, userID, notificationID uint, changed bool) (*MarkResult, error) {
	rec, err := t.store.GetRecord(ctx, userID, notificationID)
	if err != nil {
		metrics.Tracking.WithLabelValues(action, "error").Inc()
		return nil, err
	}
	outcome := "changed"
	if !changed {
		outcome = "already"
	}
	metrics.Tracking.WithLabelValues(action, outcome).Inc()
	return &MarkResult{Record: rec, Already: !changed}, nil
}

func (t *ReadClickTracker) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	n, err := t.store.MarkAllRead(ctx, userID, t.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if n > 0 {
		t.log.Debug("marked all read", zap.Uint("user_id", userID), zap.Int64("count", n))
	}
	return n, nil
}

func (t *ReadClickTracker) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return t.store.UnreadCount(ctx, userID)
}

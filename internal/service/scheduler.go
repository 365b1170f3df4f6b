package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tvcast/internal/domain"
	"tvcast/internal/metrics"
	"tvcast/internal/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrSweepInProgress = errors.New("scheduler sweep already in progress")

// Deliverer runs the fanout for a stored notification. *DeliveryFanout implements it.
type Deliverer interface {
	DeliverNotification(ctx context.Context, n *models.Notification, opts DeliveryOptions) (*DeliveryStats, error)
}

// Locker grants a cross-instance lease. *lock.RedisLocker implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type SchedulerConfig struct {
	Interval     time.Duration
	SweepTimeout time.Duration
	ItemTimeout  time.Duration
	BatchLimit   int
	LeaseKey     string
}

type SweepResult struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scheduler promotes due notifications into the fanout on a fixed interval.
type Scheduler struct {
	store   NotificationStore
	deliver Deliverer
	locker  Locker
	clock   clockwork.Clock
	cfg     SchedulerConfig
	log     *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler; locker may be nil on a single instance.
func NewScheduler(store NotificationStore, deliver Deliverer, locker Locker, clock clockwork.Clock, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 2 * time.Minute
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 45 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "tvcast:scheduler:sweep"
	}
	return &Scheduler{
		store:   store,
		deliver: deliver,
		locker:  locker,
		clock:   clock,
		cfg:     cfg,
		log:     log,
	}
}

// Start runs a sweep on every tick until ctx is done. Wait blocks until the loop and any
// sweep it started have returned.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		s.log.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopped")
				return
			case <-ticker.Chan():
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					res, err := s.RunOnce(ctx)
					switch {
					case errors.Is(err, ErrSweepInProgress):
						s.log.Debug("previous sweep still running, tick skipped")
					case err != nil:
						s.log.Error("sweep failed", zap.Error(err))
					case res.Due > 0:
						s.log.Info("sweep finished",
							zap.Int("due", res.Due), zap.Int("sent", res.Sent),
							zap.Int("failed", res.Failed), zap.Int("skipped", res.Skipped))
					}
				}()
			}
		}
	}()
}

func (s *Scheduler) Wait() { s.wg.Wait() }

// RunOnce performs a single sweep. Overlapping calls get ErrSweepInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !s.running.CompareAndSwap(false, true) {
		return res, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := s.clock.Now()
	defer func() { metrics.SweepDuration.Observe(s.clock.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.cfg.LeaseKey, s.cfg.SweepTimeout)
		if err != nil {
			return res, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			s.log.Debug("sweep lease held elsewhere")
			return res, nil
		}
		defer release()
	}

	due, err := s.store.ListDue(ctx, s.clock.Now(), s.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("list due notifications: %w", err)
	}
	res.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			res.Skipped += len(due) - i
			metrics.SweepItems.WithLabelValues("skipped").Add(float64(len(due) - i))
			break
		}
		s.process(ctx, &due[i], &res)
	}
	return res, nil
}

func (s *Scheduler) process(ctx context.Context, n *models.Notification, res *SweepResult) {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	_, err := s.deliver.DeliverNotification(itemCtx, n, DeliveryOptions{AdminEvent: domain.EventScheduledNotificationSent})
	cancel()

	switch {
	case err == nil:
		res.Sent++
		metrics.SweepItems.WithLabelValues("sent").Inc()
	case domain.IsKind(err, domain.KindConflict):
		res.Skipped++
		metrics.SweepItems.WithLabelValues("skipped").Inc()
	case ctx.Err() != nil:
		// sweep deadline, not the item: leave it pending for the next pass
		res.Skipped++
		metrics.SweepItems.WithLabelValues("skipped").Inc()
	default:
		res.Failed++
		metrics.SweepItems.WithLabelValues("failed").Inc()
		s.log.Error("scheduled notification failed, deactivating",
			zap.Uint("notification_id", n.ID), zap.Error(err))
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer dcancel()
		if derr := s.store.Deactivate(dctx, n.ID); derr != nil {
			s.log.Error("deactivate failed", zap.Uint("notification_id", n.ID), zap.Error(derr))
		}
	}
}

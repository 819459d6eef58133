// Package scheduler runs the engine's background work: the periodic
// detection sweep with expiry cleanup, delivery of pending overlap
// notifications, the weekly cross-path sweep, and detection triggered by
// trip change events.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/notify"
	"github.com/cragmate/partner-engine/internal/overlap"
	"github.com/cragmate/partner-engine/internal/ratelimit"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// Repository is the slice of the Data Store the jobs read and write directly.
type Repository interface {
	DestinationNames(ctx context.Context, slugs []string) (map[string]string, error)
	UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error)
	UsersWithHome(ctx context.Context) ([]*model.User, error)
	FriendIDsOf(ctx context.Context, id model.UserID) ([]model.UserID, error)
	UpcomingTripsOfUsers(ctx context.Context, users []model.UserID, today time.Time) ([]*model.Trip, error)
	ListUnnotifiedOverlaps(ctx context.Context, today time.Time) ([]*model.Overlap, error)
	MarkOverlapNotified(ctx context.Context, id model.OverlapID, at time.Time) error
}

// Throttle limits how often one trip may trigger detection.
// *ratelimit.Limiter implements it.
type Throttle interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// EventPublisher announces new overlaps to both participants.
// *messaging.NATSClient implements it.
type EventPublisher interface {
	PublishOverlapDetected(user model.UserID, o *model.Overlap) error
}

// Intervals sets how often each periodic job runs.
type Intervals struct {
	DetectAll     time.Duration
	NotifyPending time.Duration
	CrossPath     time.Duration
}

// DefaultIntervals are the production cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		DetectAll:     24 * time.Hour,
		NotifyPending: 2 * time.Hour,
		CrossPath:     7 * 24 * time.Hour,
	}
}

// Scheduler owns the periodic jobs and the trip-changed trigger.
type Scheduler struct {
	repo      Repository
	detector  *overlap.Detector
	manager   *overlap.Manager
	resolver  *visibility.Resolver
	notifier  notify.Notifier
	throttle  Throttle
	events    EventPublisher
	intervals Intervals
	log       *logger.Logger
	now       func() time.Time
}

// New creates a Scheduler. Throttle and event publishing are optional and
// attached with WithThrottle and WithEvents.
func New(repo Repository, detector *overlap.Detector, manager *overlap.Manager, resolver *visibility.Resolver, notifier notify.Notifier, intervals Intervals, log *logger.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		detector:  detector,
		manager:   manager,
		resolver:  resolver,
		notifier:  notifier,
		intervals: intervals,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
	}
}

// WithThrottle limits trip-changed detection per trip.
func (s *Scheduler) WithThrottle(t Throttle) *Scheduler {
	s.throttle = t
	return s
}

// WithEvents publishes overlap.detected events for triggered detections.
func (s *Scheduler) WithEvents(p EventPublisher) *Scheduler {
	s.events = p
	return s
}

// Run starts every periodic job and blocks until ctx is cancelled and all
// loops have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"detect_all", s.intervals.DetectAll, s.DetectAllAndCleanup},
		{"notify_pending", s.intervals.NotifyPending, func(ctx context.Context) error {
			_, err := s.NotifyPending(ctx)
			return err
		}},
		{"cross_path", s.intervals.CrossPath, func(ctx context.Context) error {
			_, err := s.CrossPathSweep(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if j.interval <= 0 {
			s.log.Warn("job disabled", "job", j.name)
			continue
		}
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j.name, j.interval, j.run)
		}()
	}
	wg.Wait()
}

// loop runs job on every tick until ctx is done. A failed run is logged and
// retried on the next tick.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("job scheduled", "job", name, "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("job loop stopped", "job", name)
			return
		case <-ticker.C:
			s.runJob(ctx, name, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	start := time.Now()
	if err := job(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		s.log.Error("job failed", "job", name, "error", err)
		return
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	s.log.Debug("job finished", "job", name, "took", time.Since(start).String())
}

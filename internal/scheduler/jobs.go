package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/notify"
	"github.com/cragmate/partner-engine/internal/ratelimit"
)

// DetectAllAndCleanup runs a full detection sweep, then deletes overlaps past
// the retention window.
func (s *Scheduler) DetectAllAndCleanup(ctx context.Context) error {
	sum, err := s.detector.DetectAll(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: detect all: %w", err)
	}
	removed, err := s.manager.CleanupExpired(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: cleanup: %w", err)
	}
	s.log.Info("daily sweep complete",
		"users", sum.Users,
		"created", sum.Created,
		"failed", sum.Failed,
		"expired", removed,
	)
	return nil
}

// NotifyPending notifies both sides of every overlap that has not started
// and was never announced, then marks it sent. An overlap whose notifications
// were not all accepted stays pending for the next run. It returns how many
// overlaps were announced.
func (s *Scheduler) NotifyPending(ctx context.Context) (int, error) {
	pending, err := s.repo.ListUnnotifiedOverlaps(ctx, model.DateOf(s.now()))
	if err != nil {
		return 0, fmt.Errorf("scheduler: pending overlaps: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	names, err := s.names(ctx, pending)
	if err != nil {
		return 0, err
	}
	dests := s.destinations(ctx, pending)

	sent, held := 0, 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !s.deliverAll(ctx, notify.OverlapNotifications(o, dests.of(o), names)) {
			held++
			continue
		}
		if err := s.repo.MarkOverlapNotified(ctx, o.ID, s.now()); err != nil {
			s.log.Error("mark overlap notified", "overlap_id", o.ID, "error", err)
			continue
		}
		sent++
	}
	s.log.Info("pending overlaps notified", "count", sent, "held", held)
	return sent, nil
}

// CrossPathSweep tells every climber with a home location about friends'
// upcoming shared trips to destinations near home. It returns how many
// notifications were produced. One climber failing does not stop the sweep.
func (s *Scheduler) CrossPathSweep(ctx context.Context) (int, error) {
	users, err := s.repo.UsersWithHome(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: users with home: %w", err)
	}

	today := model.DateOf(s.now())
	total := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.crossPathFor(ctx, u, today)
		if err != nil {
			s.log.Error("cross path check failed", "user_id", u.ID, "error", err)
			continue
		}
		total += n
	}
	s.log.Info("cross path sweep complete", "users", len(users), "notifications", total)
	return total, nil
}

func (s *Scheduler) crossPathFor(ctx context.Context, user *model.User, today time.Time) (int, error) {
	ids, err := s.repo.FriendIDsOf(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("friends: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	byID, err := s.repo.UsersByID(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load friends: %w", err)
	}
	pool := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if f := byID[id]; f != nil {
			pool = append(pool, f)
		}
	}
	friends, err := s.resolver.VisibleSet(ctx, user, pool)
	if err != nil {
		return 0, err
	}
	if len(friends) == 0 {
		return 0, nil
	}

	visible := make(map[model.UserID]*model.User, len(friends))
	visibleIDs := make([]model.UserID, 0, len(friends))
	for _, f := range friends {
		visible[f.ID] = f
		visibleIDs = append(visibleIDs, f.ID)
	}
	trips, err := s.repo.UpcomingTripsOfUsers(ctx, visibleIDs, today)
	if err != nil {
		return 0, fmt.Errorf("friend trips: %w", err)
	}

	n := 0
	for _, t := range trips {
		if !t.Active || t.Visibility == model.FullPrivate {
			continue
		}
		if !s.manager.DetectCrossPath(user, t) {
			continue
		}
		if s.deliver(ctx, notify.CrossPathNotification(user.ID, visible[t.UserID], t)) {
			n++
		}
	}
	return n, nil
}

// OnTripChanged runs detection for the changed trip, announces every new
// overlap to both participants and sends high-score overlaps immediately.
// Triggers beyond the per-trip throttle are skipped.
func (s *Scheduler) OnTripChanged(ctx context.Context, ev messaging.TripChanged) ([]*model.Overlap, error) {
	if ev.TripID == "" {
		return nil, errors.New("scheduler: trip changed event without trip id")
	}
	if s.throttle != nil {
		// Allow fails open, so its error is only worth a log line.
		allowed, err := s.throttle.Allow(ctx, string(ev.TripID), ratelimit.RuleTripDetect)
		if err != nil {
			s.log.Warn("throttle check failed", "trip_id", ev.TripID, "error", err)
		}
		if !allowed {
			s.log.Debug("trip detection throttled", "trip_id", ev.TripID)
			return nil, nil
		}
	}

	created, err := s.detector.DetectForTrip(ctx, ev.TripID)
	if err != nil {
		return created, fmt.Errorf("scheduler: detect for trip %s: %w", ev.TripID, err)
	}
	if len(created) == 0 {
		return nil, nil
	}
	s.announce(ctx, created)
	return created, nil
}

func (s *Scheduler) announce(ctx context.Context, created []*model.Overlap) {
	if s.events != nil {
		for _, o := range created {
			for _, user := range []model.UserID{o.User1, o.User2} {
				if err := s.events.PublishOverlapDetected(user, o); err != nil {
					s.log.Warn("publish overlap detected", "overlap_id", o.ID, "user_id", user, "error", err)
				}
			}
		}
	}

	var high []*model.Overlap
	for _, o := range created {
		if notify.IsHighScore(o) {
			high = append(high, o)
		}
	}
	if len(high) == 0 {
		return
	}
	names, err := s.names(ctx, high)
	if err != nil {
		// Fall back to ids in the message text.
		s.log.Warn("load participant names", "error", err)
		names = notify.Names{}
	}
	dests := s.destinations(ctx, high)
	for _, o := range high {
		// Left pending so the periodic job retries it.
		if !s.deliverAll(ctx, notify.HighScoreNotifications(o, dests.of(o), names)) {
			continue
		}
		if err := s.repo.MarkOverlapNotified(ctx, o.ID, s.now()); err != nil {
			s.log.Error("mark overlap notified", "overlap_id", o.ID, "error", err)
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, n notify.Notification) bool {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notification failed", "recipient", n.Recipient, "type", n.Type, "error", err)
		return false
	}
	return true
}

// deliverAll attempts every notification and reports whether all of them
// were accepted.
func (s *Scheduler) deliverAll(ctx context.Context, ns []notify.Notification) bool {
	ok := true
	for _, n := range ns {
		if !s.deliver(ctx, n) {
			ok = false
		}
	}
	return ok
}

// names loads display names for everyone taking part in overlaps.
func (s *Scheduler) names(ctx context.Context, overlaps []*model.Overlap) (notify.Names, error) {
	seen := make(map[model.UserID]bool)
	var ids []model.UserID
	for _, o := range overlaps {
		for _, id := range []model.UserID{o.User1, o.User2} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	users, err := s.repo.UsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load participants: %w", err)
	}
	names := make(notify.Names, len(users))
	for id, u := range users {
		names[id] = u.Name()
	}
	return names, nil
}

// destinationNames maps destination slugs to display names.
type destinationNames map[string]string

func (d destinationNames) of(o *model.Overlap) string {
	if name := d[o.Destination]; name != "" {
		return name
	}
	return o.Destination
}

// destinations loads display names for every destination in overlaps with a
// single read. Messages fall back to the slug when the read fails.
func (s *Scheduler) destinations(ctx context.Context, overlaps []*model.Overlap) destinationNames {
	seen := make(map[string]bool)
	var slugs []string
	for _, o := range overlaps {
		if !seen[o.Destination] {
			seen[o.Destination] = true
			slugs = append(slugs, o.Destination)
		}
	}
	names, err := s.repo.DestinationNames(ctx, slugs)
	if err != nil {
		s.log.Warn("load destination names", "error", err)
		return destinationNames{}
	}
	return names
}

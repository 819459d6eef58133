package overlap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cragmate/partner-engine/internal/geo"
	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
	"github.com/cragmate/partner-engine/internal/visibility"
)

var (
	// ErrOverlapNotFound is returned for an unknown overlap id.
	ErrOverlapNotFound = errors.New("overlap: not found")
	// ErrNotParticipant is returned when the caller is neither side of the overlap.
	ErrNotParticipant = errors.New("overlap: user is not part of this overlap")
)

const (
	// DefaultRetention is how long an overlap is kept after it ends.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultCrossPathKm is the home radius for cross-path detection.
	DefaultCrossPathKm = 100.0
)

// Manager handles everything that happens to an overlap after detection:
// dismissal, listing and expiry. It also answers the cross-path question.
type Manager struct {
	repo        Repository
	resolver    *visibility.Resolver
	log         *logger.Logger
	retention   time.Duration
	crossPathKm float64
	now         func() time.Time
}

// NewManager creates a Manager with the default retention and cross-path radius.
func NewManager(repo Repository, resolver *visibility.Resolver, log *logger.Logger) *Manager {
	return &Manager{
		repo:        repo,
		resolver:    resolver,
		log:         log.With("component", "overlap"),
		retention:   DefaultRetention,
		crossPathKm: DefaultCrossPathKm,
		now:         time.Now,
	}
}

// WithRetention overrides how long ended overlaps are kept.
func (m *Manager) WithRetention(d time.Duration) *Manager {
	if d > 0 {
		m.retention = d
	}
	return m
}

// WithCrossPathRadius overrides the cross-path radius in kilometers.
func (m *Manager) WithCrossPathRadius(km float64) *Manager {
	if km > 0 {
		m.crossPathKm = km
	}
	return m
}

// WithClock replaces the wall clock used for retention and listing.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Dismiss hides the overlap from the user's list. The other side is unaffected.
func (m *Manager) Dismiss(ctx context.Context, id model.OverlapID, user model.UserID) error {
	return m.setDismissed(ctx, id, user, true)
}

// Undismiss reverses Dismiss.
func (m *Manager) Undismiss(ctx context.Context, id model.OverlapID, user model.UserID) error {
	return m.setDismissed(ctx, id, user, false)
}

func (m *Manager) setDismissed(ctx context.Context, id model.OverlapID, user model.UserID, dismissed bool) error {
	o, err := m.repo.GetOverlap(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrOverlapNotFound
	}
	if err != nil {
		return fmt.Errorf("overlap: load %s: %w", id, err)
	}

	side := o.SideOf(user)
	if side == model.NoSide {
		m.log.Warn("dismiss by non-participant", "overlap_id", id, "user_id", user)
		return ErrNotParticipant
	}

	if err := m.repo.SetDismissed(ctx, id, side, dismissed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOverlapNotFound
		}
		return fmt.Errorf("overlap: set dismissed %s: %w", id, err)
	}
	m.log.Info("overlap dismissal changed", "overlap_id", id, "user_id", user, "dismissed", dismissed)
	return nil
}

// CleanupExpired deletes overlaps that ended more than the retention period
// ago. Running it twice in a row deletes nothing the second time.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := model.DateOf(m.now().Add(-m.retention))
	n, err := m.repo.DeleteExpiredOverlaps(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("overlap: cleanup before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	if n > 0 {
		metrics.OverlapsExpired.Add(float64(n))
		m.log.Info("cleaned up expired overlaps", "count", n, "cutoff", cutoff.Format(time.DateOnly))
	}
	return n, nil
}

// ListForUser returns the user's current overlaps, highest score first, then
// earliest start. Dismissed ones are left out unless includeDismissed is set,
// and overlaps with a climber the user can no longer see are always left out.
func (m *Manager) ListForUser(ctx context.Context, userID model.UserID, includeDismissed bool) ([]*model.Overlap, error) {
	list, err := m.repo.ListOverlapsForUser(ctx, userID, model.DateOf(m.now()), includeDismissed)
	if err != nil {
		return nil, fmt.Errorf("overlap: list for %s: %w", userID, err)
	}
	if len(list) == 0 {
		return nil, nil
	}

	viewer, err := m.repo.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlap: load user %s: %w", userID, err)
	}

	ids := make([]model.UserID, 0, len(list))
	for _, o := range list {
		other, _ := o.Other(userID)
		ids = append(ids, other)
	}
	users, err := m.repo.UsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("overlap: load counterparts: %w", err)
	}
	blocks, err := m.resolver.Blocks(ctx, viewer)
	if err != nil {
		return nil, err
	}

	out := list[:0]
	for _, o := range list {
		other, _ := o.Other(userID)
		if visibility.CanSee(viewer, users[other], blocks) {
			out = append(out, o)
		}
	}
	return out, nil
}

// DetectCrossPath reports whether trip's destination lies within the
// cross-path radius of user's home. Missing coordinates on either side
// yield false.
func (m *Manager) DetectCrossPath(user *model.User, trip *model.Trip) bool {
	if user == nil || user.Home == nil || trip == nil || trip.Destination.Location == nil {
		return false
	}
	km := geo.Distance(*user.Home, *trip.Destination.Location)
	if km > m.crossPathKm {
		return false
	}
	m.log.Info("cross path detected",
		"trip_id", trip.ID,
		"destination", trip.Destination.Slug,
		"user_id", user.ID,
		"distance_km", km,
	)
	return true
}

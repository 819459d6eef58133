package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// Repository is the read shape the matcher needs from the Data Store. Every
// method is a batched fetch; scoring never triggers per-candidate queries.
type Repository interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error)
	ProfilesFor(ctx context.Context, ids []model.UserID) (map[model.UserID][]model.ClimberProfile, error)
	GetTrip(ctx context.Context, id model.TripID) (*model.Trip, error)
	FindActiveTrip(ctx context.Context, user model.UserID, today time.Time) (*model.Trip, error)
	FindTripsOverlapping(ctx context.Context, destination string, r model.DateRange, exclude model.UserID) ([]*model.Trip, error)
}

// Candidate is a climber eligible to be scored against the viewer's trip,
// together with the one trip of theirs that qualifies.
type Candidate struct {
	User     *model.User
	Trip     *model.Trip
	Profiles []model.ClimberProfile
}

// Selector filters the candidate pool for a trip. It does not score or order.
type Selector struct {
	repo     Repository
	resolver *visibility.Resolver
}

// NewSelector creates a Selector.
func NewSelector(repo Repository, resolver *visibility.Resolver) *Selector {
	return &Selector{repo: repo, resolver: resolver}
}

// Select returns the visible, email-verified climbers other than viewer who
// have an active trip at trip's destination with intersecting dates. When a
// climber has several such trips the earliest one is used. The viewer's own
// profiles are returned alongside for scoring.
func (s *Selector) Select(ctx context.Context, viewer *model.User, trip *model.Trip) ([]Candidate, []model.ClimberProfile, error) {
	trips, err := s.repo.FindTripsOverlapping(ctx, trip.Destination.Slug, trip.Dates, viewer.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("matching: find trips at %s: %w", trip.Destination.Slug, err)
	}

	// One trip per owner, first wins (repository orders by start date).
	byOwner := make(map[model.UserID]*model.Trip)
	var owners []model.UserID
	for _, t := range trips {
		if t.UserID == viewer.ID || !t.Active {
			continue
		}
		if _, seen := byOwner[t.UserID]; seen {
			continue
		}
		byOwner[t.UserID] = t
		owners = append(owners, t.UserID)
	}
	if len(owners) == 0 {
		return nil, nil, nil
	}

	users, err := s.repo.UsersByID(ctx, owners)
	if err != nil {
		return nil, nil, fmt.Errorf("matching: load candidates: %w", err)
	}
	pool := make([]*model.User, 0, len(owners))
	for _, id := range owners {
		if u := users[id]; u != nil && u.EmailVerified {
			pool = append(pool, u)
		}
	}

	visible, err := s.resolver.VisibleSet(ctx, viewer, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("matching: visibility: %w", err)
	}
	if len(visible) == 0 {
		return nil, nil, nil
	}

	ids := make([]model.UserID, 0, len(visible)+1)
	ids = append(ids, viewer.ID)
	for _, u := range visible {
		ids = append(ids, u.ID)
	}
	profiles, err := s.repo.ProfilesFor(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("matching: load profiles: %w", err)
	}

	out := make([]Candidate, 0, len(visible))
	for _, u := range visible {
		out = append(out, Candidate{
			User:     u,
			Trip:     byOwner[u.ID],
			Profiles: profiles[u.ID],
		})
	}
	return out, profiles[viewer.ID], nil
}

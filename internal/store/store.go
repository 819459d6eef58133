// Package store declares the Data Store contract shared by the Postgres and
// in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cragmate/partner-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the full read/write surface the engines consume. Each engine
// declares the narrower subset it actually needs.
type Store interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error)
	UsersWithHome(ctx context.Context) ([]*model.User, error)
	UsersWithUpcomingTrips(ctx context.Context, today time.Time) ([]model.UserID, error)

	// FriendIDsOf returns users with an accepted friendship in either direction.
	FriendIDsOf(ctx context.Context, id model.UserID) ([]model.UserID, error)
	// BlockedEitherWay returns users the given user blocked or was blocked by.
	BlockedEitherWay(ctx context.Context, id model.UserID) ([]model.UserID, error)
	IsBlockedEitherWay(ctx context.Context, a, b model.UserID) (bool, error)
	ProfilesFor(ctx context.Context, ids []model.UserID) (map[model.UserID][]model.ClimberProfile, error)

	GetTrip(ctx context.Context, id model.TripID) (*model.Trip, error)
	// DestinationNames maps each known slug to its display name. Unknown
	// slugs are absent from the result.
	DestinationNames(ctx context.Context, slugs []string) (map[string]string, error)
	// FindActiveTrip returns the user's earliest active trip that has not
	// ended, or ErrNotFound.
	FindActiveTrip(ctx context.Context, user model.UserID, today time.Time) (*model.Trip, error)
	// FindTripsOverlapping returns active trips at destination whose dates
	// intersect r, excluding trips owned by exclude, ordered by start date.
	FindTripsOverlapping(ctx context.Context, destination string, r model.DateRange, exclude model.UserID) ([]*model.Trip, error)
	UpcomingTripsOf(ctx context.Context, user model.UserID, today time.Time) ([]*model.Trip, error)
	UpcomingTripsOfUsers(ctx context.Context, users []model.UserID, today time.Time) ([]*model.Trip, error)

	ExistsOverlapForPair(ctx context.Context, a, b model.TripID) (bool, error)
	// InsertOverlapIfAbsent stores o unless an overlap for the same unordered
	// trip pair exists. A uniqueness conflict reports created=false, not an error.
	InsertOverlapIfAbsent(ctx context.Context, o *model.Overlap) (created bool, err error)
	GetOverlap(ctx context.Context, id model.OverlapID) (*model.Overlap, error)
	SetDismissed(ctx context.Context, id model.OverlapID, side model.Side, dismissed bool) error
	ListOverlapsForUser(ctx context.Context, user model.UserID, today time.Time, includeDismissed bool) ([]*model.Overlap, error)
	ListUnnotifiedOverlaps(ctx context.Context, today time.Time) ([]*model.Overlap, error)
	MarkOverlapNotified(ctx context.Context, id model.OverlapID, at time.Time) error
	// DeleteExpiredOverlaps removes overlaps whose end date is before cutoff.
	DeleteExpiredOverlaps(ctx context.Context, cutoff time.Time) (int64, error)
}

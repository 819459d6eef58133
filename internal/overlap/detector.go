package overlap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// Repository is the Data Store surface used by detection and lifecycle.
type Repository interface {
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error)
	UsersWithUpcomingTrips(ctx context.Context, today time.Time) ([]model.UserID, error)
	GetTrip(ctx context.Context, id model.TripID) (*model.Trip, error)
	UpcomingTripsOf(ctx context.Context, user model.UserID, today time.Time) ([]*model.Trip, error)
	FindTripsOverlapping(ctx context.Context, destination string, r model.DateRange, exclude model.UserID) ([]*model.Trip, error)

	ExistsOverlapForPair(ctx context.Context, a, b model.TripID) (bool, error)
	InsertOverlapIfAbsent(ctx context.Context, o *model.Overlap) (bool, error)
	GetOverlap(ctx context.Context, id model.OverlapID) (*model.Overlap, error)
	SetDismissed(ctx context.Context, id model.OverlapID, side model.Side, dismissed bool) error
	ListOverlapsForUser(ctx context.Context, user model.UserID, today time.Time, includeDismissed bool) ([]*model.Overlap, error)
	DeleteExpiredOverlaps(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultConcurrency bounds DetectAll when no explicit limit is configured.
const DefaultConcurrency = 8

// Detector finds new overlaps between a climber's trips and other climbers'
// trips. It only ever creates records; existing ones are left untouched.
type Detector struct {
	repo        Repository
	resolver    *visibility.Resolver
	scorer      *Scorer
	log         *logger.Logger
	concurrency int
	now         func() time.Time
}

// NewDetector creates a Detector. A non-positive concurrency falls back to
// DefaultConcurrency.
func NewDetector(repo Repository, resolver *visibility.Resolver, w Weights, concurrency int, log *logger.Logger) *Detector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Detector{
		repo:        repo,
		resolver:    resolver,
		scorer:      NewScorer(w),
		log:         log.With("component", "overlap"),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock used to decide what "today" is.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Summary reports one DetectAll run.
type Summary struct {
	Users   int
	Created int
	Failed  int
}

// DetectForUser checks every active, upcoming, non-private trip of the user
// and returns the overlaps it created.
func (d *Detector) DetectForUser(ctx context.Context, userID model.UserID) ([]*model.Overlap, error) {
	start := time.Now()
	defer func() {
		metrics.DetectionDuration.WithLabelValues("user").Observe(time.Since(start).Seconds())
	}()

	user, err := d.repo.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlap: load user %s: %w", userID, err)
	}

	today := model.DateOf(d.now())
	trips, err := d.repo.UpcomingTripsOf(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("overlap: trips of %s: %w", userID, err)
	}

	var eligible []*model.Trip
	for _, t := range trips {
		if d.tripEligible(t, today) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		d.log.Debug("no eligible trips", "user_id", userID)
		return nil, nil
	}

	friends, err := d.resolver.FriendIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("overlap: friends of %s: %w", userID, err)
	}

	var created []*model.Overlap
	for _, t := range eligible {
		out, err := d.detect(ctx, user, t, friends, today, "user")
		if err != nil {
			return created, err
		}
		created = append(created, out...)
	}
	return created, nil
}

// DetectForTrip runs detection for one trip, typically right after it was
// created or its dates or destination changed. Inactive, private or past
// trips yield nothing.
func (d *Detector) DetectForTrip(ctx context.Context, tripID model.TripID) ([]*model.Overlap, error) {
	start := time.Now()
	defer func() {
		metrics.DetectionDuration.WithLabelValues("trip").Observe(time.Since(start).Seconds())
	}()

	trip, err := d.repo.GetTrip(ctx, tripID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlap: load trip %s: %w", tripID, err)
	}

	today := model.DateOf(d.now())
	if !d.tripEligible(trip, today) {
		return nil, nil
	}

	user, err := d.repo.GetUser(ctx, trip.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlap: load owner of %s: %w", tripID, err)
	}

	friends, err := d.resolver.FriendIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("overlap: friends of %s: %w", user.ID, err)
	}
	return d.detect(ctx, user, trip, friends, today, "trip")
}

// DetectAll runs DetectForUser for every climber with an upcoming trip. One
// climber failing is logged and counted; only cancellation stops the run.
func (d *Detector) DetectAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.DetectionDuration.WithLabelValues("all").Observe(time.Since(start).Seconds())
	}()

	users, err := d.repo.UsersWithUpcomingTrips(ctx, model.DateOf(d.now()))
	if err != nil {
		return Summary{}, fmt.Errorf("overlap: list users: %w", err)
	}

	var (
		mu  sync.Mutex
		sum = Summary{Users: len(users)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, id := range users {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			created, err := d.DetectForUser(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			sum.Created += len(created)
			if err != nil {
				sum.Failed++
				d.log.Error("detect for user failed", "user_id", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	d.log.Info("detection run complete",
		"users", sum.Users,
		"created", sum.Created,
		"failed", sum.Failed,
		"took", time.Since(start).String(),
	)
	return sum, nil
}

func (d *Detector) tripEligible(t *model.Trip, today time.Time) bool {
	return t.Active && t.Visibility != model.FullPrivate && t.Upcoming(today)
}

// detect pairs trip with every qualifying trip at the same destination and
// inserts the overlaps that do not exist yet.
func (d *Detector) detect(ctx context.Context, user *model.User, trip *model.Trip, friends map[model.UserID]bool, today time.Time, trigger string) ([]*model.Overlap, error) {
	others, err := d.candidates(ctx, user, trip, friends, today)
	if err != nil {
		return nil, err
	}

	var created []*model.Overlap
	for _, other := range others {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		exists, err := d.repo.ExistsOverlapForPair(ctx, trip.ID, other.ID)
		if err != nil {
			return created, fmt.Errorf("overlap: pair check %s/%s: %w", trip.ID, other.ID, err)
		}
		if exists {
			continue
		}

		shared, ok := trip.Dates.Intersect(other.Dates)
		if !ok {
			continue
		}
		o := &model.Overlap{
			ID:          model.OverlapID(uuid.New().String()),
			User1:       user.ID,
			User2:       other.UserID,
			Trip1:       trip.ID,
			Trip2:       other.ID,
			Destination: trip.Destination.Slug,
			Start:       shared.Start,
			End:         shared.End,
			Days:        shared.Days(),
			Score:       d.scorer.Score(trip, other, friends[other.UserID]),
			DetectedAt:  d.now(),
		}

		inserted, err := d.repo.InsertOverlapIfAbsent(ctx, o)
		if err != nil {
			// One bad pair must not hide the others.
			d.log.Error("insert overlap failed", "trip_id", trip.ID, "other_trip_id", other.ID, "error", err)
			continue
		}
		if !inserted {
			metrics.OverlapInsertConflicts.Inc()
			d.log.Debug("overlap already recorded concurrently", "trip_id", trip.ID, "other_trip_id", other.ID)
			continue
		}

		metrics.OverlapsCreated.WithLabelValues(trigger).Inc()
		d.log.Info("created overlap",
			"overlap_id", o.ID,
			"trip_id", trip.ID,
			"other_trip_id", other.ID,
			"days", o.Days,
			"score", o.Score,
		)
		created = append(created, o)
	}
	return created, nil
}

// candidates returns the other climbers' trips trip may overlap with: active,
// not ended, owned by a visible climber, and either looking for partners or
// open to friends when the owner is a friend.
func (d *Detector) candidates(ctx context.Context, user *model.User, trip *model.Trip, friends map[model.UserID]bool, today time.Time) ([]*model.Trip, error) {
	trips, err := d.repo.FindTripsOverlapping(ctx, trip.Destination.Slug, trip.Dates, user.ID)
	if err != nil {
		return nil, fmt.Errorf("overlap: trips at %s: %w", trip.Destination.Slug, err)
	}

	var (
		pending []*model.Trip
		owners  []model.UserID
		seen    = make(map[model.UserID]bool)
	)
	for _, t := range trips {
		if t.UserID == user.ID || !t.Active || !t.Upcoming(today) {
			continue
		}
		switch {
		case t.Visibility == model.LookingForPartners:
		case t.Visibility == model.OpenToFriends && friends[t.UserID]:
		default:
			continue
		}
		pending = append(pending, t)
		if !seen[t.UserID] {
			seen[t.UserID] = true
			owners = append(owners, t.UserID)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	users, err := d.repo.UsersByID(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("overlap: load trip owners: %w", err)
	}
	pool := make([]*model.User, 0, len(owners))
	for _, id := range owners {
		if u := users[id]; u != nil {
			pool = append(pool, u)
		}
	}
	visible, err := d.resolver.VisibleSet(ctx, user, pool)
	if err != nil {
		return nil, fmt.Errorf("overlap: visibility: %w", err)
	}
	ok := make(map[model.UserID]bool, len(visible))
	for _, u := range visible {
		ok[u.ID] = true
	}

	out := pending[:0]
	for _, t := range pending {
		if ok[t.UserID] {
			out = append(out, t)
		}
	}
	return out, nil
}

package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// DefaultLimit is used when a caller passes a non-positive limit.
const DefaultLimit = 10

// ErrTripNotEligible is returned when the trip to match against does not
// belong to the viewer or is inactive.
var ErrTripNotEligible = errors.New("matching: trip not eligible for matching")

// MatchResult is one ranked candidate. It is built per request and never
// stored.
type MatchResult struct {
	User      *model.User     `json:"user"`
	Trip      *model.Trip     `json:"trip"`
	Score     int             `json:"score"`
	Reasons   []Reason        `json:"reasons"`
	Overlap   model.DateRange `json:"overlap"`
	Breakdown Breakdown       `json:"breakdown"`
}

// Service assembles ranked match lists. It is stateless apart from its
// collaborators, so concurrent requests are safe.
type Service struct {
	repo     Repository
	selector *Selector
	scorer   *Scorer
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates a matching service.
func NewService(repo Repository, resolver *visibility.Resolver, weights Weights, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		selector: NewSelector(repo, resolver),
		scorer:   NewScorer(weights),
		log:      log.With("component", "matcher"),
		now:      time.Now,
	}
}

// GetMatches returns up to limit candidates for the viewer's trip with a score
// above the publishable threshold, highest score first.
func (s *Service) GetMatches(ctx context.Context, viewerID model.UserID, tripID model.TripID, limit int) ([]MatchResult, error) {
	viewer, err := s.repo.GetUser(ctx, viewerID)
	if err != nil {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: load viewer %s: %w", viewerID, err)
	}
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: load trip %s: %w", tripID, err)
	}
	if trip.UserID != viewer.ID || !trip.Active {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, ErrTripNotEligible
	}
	return s.matchTrip(ctx, viewer, trip, limit)
}

// GetMatchesForActiveTrip matches against the viewer's current active trip.
// A viewer without one gets an empty list.
func (s *Service) GetMatchesForActiveTrip(ctx context.Context, viewerID model.UserID, limit int) ([]MatchResult, error) {
	viewer, err := s.repo.GetUser(ctx, viewerID)
	if err != nil {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: load viewer %s: %w", viewerID, err)
	}
	trip, err := s.repo.FindActiveTrip(ctx, viewerID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		metrics.MatchRequests.WithLabelValues("ok").Inc()
		metrics.MatchResults.Observe(0)
		return nil, nil
	}
	if err != nil {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: active trip of %s: %w", viewerID, err)
	}
	return s.matchTrip(ctx, viewer, trip, limit)
}

func (s *Service) matchTrip(ctx context.Context, viewer *model.User, trip *model.Trip, limit int) ([]MatchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates, myProfiles, err := s.selector.Select(ctx, viewer, trip)
	if err != nil {
		metrics.MatchRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	mine := Side{User: viewer, Trip: trip, Profiles: myProfiles}
	results := make([]MatchResult, 0, len(candidates))
	for _, c := range candidates {
		// The caller owns cancellation; stop scoring once it gives up.
		if err := ctx.Err(); err != nil {
			metrics.MatchRequests.WithLabelValues("error").Inc()
			return nil, err
		}

		sc := s.scorer.Score(mine, Side{User: c.User, Trip: c.Trip, Profiles: c.Profiles})
		s.log.Debug("match score",
			"trip_id", trip.ID,
			"candidate_id", c.User.ID,
			"total", sc.Value,
			"location", sc.Breakdown.Location,
			"dates", sc.Breakdown.Dates,
			"discipline", sc.Breakdown.Discipline,
			"grade", sc.Breakdown.Grade,
			"risk", sc.Breakdown.Risk,
			"availability", sc.Breakdown.Availability,
		)
		if !s.scorer.Publishable(sc.Value) {
			continue
		}
		results = append(results, MatchResult{
			User:      c.User,
			Trip:      c.Trip,
			Score:     sc.Value,
			Reasons:   sc.Reasons,
			Overlap:   sc.Overlap,
			Breakdown: sc.Breakdown,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Trip.Dates.Start.Before(results[j].Trip.Dates.Start)
	})

	if len(results) > 0 {
		total := 0
		for _, r := range results {
			total += r.Score
		}
		s.log.Info("generated matches",
			"trip_id", trip.ID,
			"count", len(results),
			"avg_score", float64(total)/float64(len(results)),
			"top_score", results[0].Score,
		)
	} else {
		s.log.Info("no matches found", "trip_id", trip.ID)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	metrics.MatchRequests.WithLabelValues("ok").Inc()
	metrics.MatchResults.Observe(float64(len(results)))
	return results, nil
}

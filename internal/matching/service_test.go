package matching

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/visibility"
)

// fixture seeds a viewer with one sport trip to the Red River Gorge.
type fixture struct {
	st  *memstore.Store
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	svc := NewService(st, visibility.NewResolver(st), DefaultWeights(), logger.Nop())
	svc.now = func() time.Time { return model.NewDate(2026, 12, 1) }

	st.PutUser(climber("viewer", model.Balanced))
	st.PutProfile(sport("viewer", 30, 50))
	st.PutTrip(&model.Trip{
		ID:          "viewer-trip",
		UserID:      "viewer",
		Destination: model.Destination{Slug: "red-river-gorge", Name: "Red River Gorge"},
		Dates:       span(1, 5),
		Disciplines: []model.Discipline{model.Sport},
		Crags:       []string{"muir-valley"},
		Visibility:  model.LookingForPartners,
		Active:      true,
	})
	return &fixture{st: st, svc: svc}
}

// addClimber seeds a compatible climber with a trip overlapping the viewer's.
func (f *fixture) addClimber(id string, dates model.DateRange) {
	f.st.PutUser(climber(id, model.Balanced))
	f.st.PutProfile(sport(id, 30, 50))
	f.st.PutTrip(&model.Trip{
		ID:          model.TripID(id + "-trip"),
		UserID:      model.UserID(id),
		Destination: model.Destination{Slug: "red-river-gorge", Name: "Red River Gorge"},
		Dates:       dates,
		Disciplines: []model.Discipline{model.Sport},
		Crags:       []string{"muir-valley"},
		Visibility:  model.LookingForPartners,
		Active:      true,
	})
}

func ids(results []MatchResult) []model.UserID {
	out := make([]model.UserID, len(results))
	for i, r := range results {
		out[i] = r.User.ID
	}
	return out
}

func TestGetMatches_RankedByScore(t *testing.T) {
	f := newFixture(t)
	f.addClimber("one-day", span(5, 9))   // 1 shared day
	f.addClimber("full", span(1, 5))      // 5 shared days
	f.addClimber("three-day", span(3, 9)) // 3 shared days

	got, err := f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 10)
	require.NoError(t, err)

	assert.Equal(t, []model.UserID{"full", "three-day", "one-day"}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	assert.Equal(t, span(3, 5), got[1].Overlap)
}

func TestGetMatches_Limit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.addClimber(fmt.Sprintf("c%d", i), span(1, 5))
	}

	got, err := f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestGetMatches_BlockIsBilateral(t *testing.T) {
	f := newFixture(t)
	f.addClimber("blocked-by-viewer", span(1, 5))
	f.addClimber("blocked-viewer", span(1, 5))
	f.addClimber("friendly", span(1, 5))
	f.st.Block("viewer", "blocked-by-viewer")
	f.st.Block("blocked-viewer", "viewer")

	got, err := f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 10)
	require.NoError(t, err)
	assert.Equal(t, []model.UserID{"friendly"}, ids(got))

	// And the viewer never shows up for either of them.
	for _, other := range []model.UserID{"blocked-by-viewer", "blocked-viewer"} {
		res, err := f.svc.GetMatches(context.Background(), other, model.TripID(string(other)+"-trip"), 10)
		require.NoError(t, err)
		assert.NotContains(t, ids(res), model.UserID("viewer"))
	}
}

func TestGetMatches_FiltersIneligible(t *testing.T) {
	f := newFixture(t)
	f.addClimber("ok", span(1, 5))

	f.addClimber("unverified", span(1, 5))
	u, _ := f.st.GetUser(context.Background(), "unverified")
	u.EmailVerified = false
	f.st.PutUser(u)

	f.addClimber("hidden", span(1, 5))
	u, _ = f.st.GetUser(context.Background(), "hidden")
	u.ProfileVisible = false
	f.st.PutUser(u)

	f.addClimber("inactive", span(1, 5))
	tr, _ := f.st.GetTrip(context.Background(), "inactive-trip")
	tr.Active = false
	f.st.PutTrip(tr)

	f.addClimber("elsewhere", span(1, 5))
	tr, _ = f.st.GetTrip(context.Background(), "elsewhere-trip")
	tr.Destination = model.Destination{Slug: "smith-rock"}
	f.st.PutTrip(tr)

	f.addClimber("later", span(10, 12))

	got, err := f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 10)
	require.NoError(t, err)
	assert.Equal(t, []model.UserID{"ok"}, ids(got))
}

func TestGetMatches_Threshold(t *testing.T) {
	f := newFixture(t)
	// Same destination, one day, no discipline or profile, opposite risk:
	// 25 (flexible crags) + 4 - 10 = 19, below the threshold.
	f.st.PutUser(climber("weak", model.Aggressive))
	f.st.PutTrip(&model.Trip{
		ID:          "weak-trip",
		UserID:      "weak",
		Destination: model.Destination{Slug: "red-river-gorge"},
		Dates:       span(5, 7),
		Visibility:  model.LookingForPartners,
		Active:      true,
	})
	viewer, _ := f.st.GetUser(context.Background(), "viewer")
	viewer.RiskTolerance = model.Conservative
	f.st.PutUser(viewer)

	got, err := f.svc.GetMatches(context.Background(), "viewer", "viewer-trip", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetMatches_TripNotEligible(t *testing.T) {
	f := newFixture(t)
	f.addClimber("other", span(1, 5))

	_, err := f.svc.GetMatches(context.Background(), "viewer", "other-trip", 10)
	assert.ErrorIs(t, err, ErrTripNotEligible)
}

func TestGetMatchesForActiveTrip(t *testing.T) {
	f := newFixture(t)
	f.addClimber("buddy", span(2, 4))

	got, err := f.svc.GetMatchesForActiveTrip(context.Background(), "viewer", 10)
	require.NoError(t, err)
	assert.Equal(t, []model.UserID{"buddy"}, ids(got))

	f.st.PutUser(climber("tripless", model.Balanced))
	got, err = f.svc.GetMatchesForActiveTrip(context.Background(), "tripless", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetMatches_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.addClimber("buddy", span(1, 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.GetMatches(ctx, "viewer", "viewer-trip", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

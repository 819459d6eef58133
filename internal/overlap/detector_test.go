package overlap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/visibility"
)

var today = model.NewDate(2026, 11, 20)

func fixedNow() time.Time { return today }

func newDetector(st *memstore.Store, concurrency int) *Detector {
	d := NewDetector(st, visibility.NewResolver(st), DefaultWeights(), concurrency, logger.Nop())
	d.now = fixedNow
	return d
}

func seedUser(st *memstore.Store, id string) {
	st.PutUser(&model.User{ID: model.UserID(id), EmailVerified: true, ProfileVisible: true})
}

func seedTrip(st *memstore.Store, id, owner string, dates model.DateRange, vis model.VisibilityStatus) {
	st.PutTrip(&model.Trip{
		ID:          model.TripID(id),
		UserID:      model.UserID(owner),
		Destination: model.Destination{Slug: "indian-creek"},
		Dates:       dates,
		Disciplines: []model.Discipline{model.Trad},
		Visibility:  vis,
		Active:      true,
	})
}

func TestDetectForUser_CreatesOverlap(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)
	seedTrip(st, "b1", "bob", dec(4, 8), model.LookingForPartners)

	created, err := newDetector(st, 1).DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, created, 1)

	o := created[0]
	assert.Equal(t, model.UserID("alice"), o.User1)
	assert.Equal(t, model.UserID("bob"), o.User2)
	assert.Equal(t, model.TripID("a1"), o.Trip1)
	assert.Equal(t, model.TripID("b1"), o.Trip2)
	assert.Equal(t, "indian-creek", o.Destination)
	assert.Equal(t, dec(4, 5), model.DateRange{Start: o.Start, End: o.End})
	assert.Equal(t, 2, o.Days)
	// 2 days x 6 + identical disciplines 25
	assert.Equal(t, 37, o.Score)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, today, o.DetectedAt)
}

func TestDetectForUser_NoDuplicatesOnRerun(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)
	seedTrip(st, "b1", "bob", dec(4, 8), model.LookingForPartners)
	d := newDetector(st, 1)

	first, err := d.DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := d.DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, again)

	// The pair is unordered: detecting from bob's side finds nothing new.
	fromBob, err := d.DetectForUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, fromBob)
	assert.Equal(t, 1, st.OverlapCount())
}

func TestDetectForUser_NonIntersectingDates(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)
	seedTrip(st, "b1", "bob", dec(6, 8), model.LookingForPartners)

	created, err := newDetector(st, 1).DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Zero(t, st.OverlapCount())
}

func TestDetectForUser_VisibilityRules(t *testing.T) {
	cases := []struct {
		name    string
		mine    model.VisibilityStatus
		theirs  model.VisibilityStatus
		friends bool
		blocked bool
		want    int
	}{
		{"looking meets looking", model.LookingForPartners, model.LookingForPartners, false, false, 1},
		{"open to friends, strangers", model.LookingForPartners, model.OpenToFriends, false, false, 0},
		{"open to friends, friends", model.LookingForPartners, model.OpenToFriends, true, false, 1},
		{"my trip private", model.FullPrivate, model.LookingForPartners, true, false, 0},
		{"their trip private", model.LookingForPartners, model.FullPrivate, true, false, 0},
		{"blocked", model.LookingForPartners, model.LookingForPartners, false, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := memstore.New()
			seedUser(st, "alice")
			seedUser(st, "bob")
			seedTrip(st, "a1", "alice", dec(1, 5), tc.mine)
			seedTrip(st, "b1", "bob", dec(1, 5), tc.theirs)
			if tc.friends {
				st.SetFriendship("bob", "alice", model.FriendshipAccepted)
			}
			if tc.blocked {
				st.Block("bob", "alice")
			}

			created, err := newDetector(st, 1).DetectForUser(context.Background(), "alice")
			require.NoError(t, err)
			assert.Len(t, created, tc.want)
		})
	}
}

func TestDetectForUser_FriendBonus(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedTrip(st, "a1", "alice", dec(1, 1), model.OpenToFriends)
	seedTrip(st, "b1", "bob", dec(1, 1), model.OpenToFriends)
	st.SetFriendship("alice", "bob", model.FriendshipAccepted)

	created, err := newDetector(st, 1).DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 6+25+15, created[0].Score)
}

func TestDetectForUser_SkipsPastAndInactive(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedUser(st, "carol")
	past := model.DateRange{Start: model.NewDate(2026, 11, 1), End: model.NewDate(2026, 11, 19)}
	seedTrip(st, "a-past", "alice", past, model.LookingForPartners)
	seedTrip(st, "b-past", "bob", past, model.LookingForPartners)
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)
	seedTrip(st, "c1", "carol", dec(1, 5), model.LookingForPartners)
	tr, _ := st.GetTrip(context.Background(), "c1")
	tr.Active = false
	st.PutTrip(tr)

	created, err := newDetector(st, 1).DetectForUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDetectForTrip(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedUser(st, "bob")
	seedUser(st, "carol")
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)
	seedTrip(st, "a2", "alice", dec(20, 25), model.LookingForPartners)
	seedTrip(st, "b1", "bob", dec(3, 4), model.LookingForPartners)
	seedTrip(st, "c1", "carol", dec(21, 22), model.LookingForPartners)
	d := newDetector(st, 1)

	created, err := d.DetectForTrip(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, model.TripID("b1"), created[0].Trip2)

	created, err = d.DetectForTrip(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, created)

	seedTrip(st, "a3", "alice", dec(21, 22), model.FullPrivate)
	created, err = d.DetectForTrip(context.Background(), "a3")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDetectAll_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	st := memstore.New()
	const climbers = 12
	for i := 0; i < climbers; i++ {
		id := fmt.Sprintf("u%02d", i)
		seedUser(st, id)
		seedTrip(st, id+"-t", id, dec(1, 5), model.LookingForPartners)
	}
	d := newDetector(st, 4)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.DetectAll(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every unordered pair exactly once.
	assert.Equal(t, climbers*(climbers-1)/2, st.OverlapCount())

	sum, err := d.DetectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, climbers, sum.Users)
	assert.Zero(t, sum.Created)
	assert.Zero(t, sum.Failed)
}

func TestDetectAll_Cancelled(t *testing.T) {
	st := memstore.New()
	seedUser(st, "alice")
	seedTrip(st, "a1", "alice", dec(1, 5), model.LookingForPartners)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDetector(st, 2).DetectAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

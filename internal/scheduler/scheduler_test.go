package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cragmate/partner-engine/internal/geo"
	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/notify"
	"github.com/cragmate/partner-engine/internal/overlap"
	"github.com/cragmate/partner-engine/internal/ratelimit"
	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/visibility"
)

var now = time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

type events struct {
	users []model.UserID
}

func (e *events) PublishOverlapDetected(user model.UserID, _ *model.Overlap) error {
	e.users = append(e.users, user)
	return nil
}

type throttle struct {
	allowed bool
	err     error
	calls   int
}

func (t *throttle) Allow(_ context.Context, _ string, rule ratelimit.Rule) (bool, error) {
	t.calls++
	return t.allowed, t.err
}

type fixture struct {
	st    *memstore.Store
	sched *Scheduler
	out   *recorder
}

func newFixture(t *testing.T, intervals Intervals) *fixture {
	t.Helper()
	st := memstore.New()
	resolver := visibility.NewResolver(st)
	clock := func() time.Time { return now }
	detector := overlap.NewDetector(st, resolver, overlap.DefaultWeights(), 2, logger.Nop()).WithClock(clock)
	manager := overlap.NewManager(st, resolver, logger.Nop()).WithClock(clock)
	out := &recorder{}
	s := New(st, detector, manager, resolver, out, intervals, logger.Nop())
	s.now = clock
	return &fixture{st: st, sched: s, out: out}
}

func (f *fixture) user(id, name string, home *geo.Point) {
	f.st.PutUser(&model.User{
		ID:             model.UserID(id),
		DisplayName:    name,
		EmailVerified:  true,
		ProfileVisible: true,
		Home:           home,
	})
}

func rrgTrip(id, owner string, from, to int) *model.Trip {
	return &model.Trip{
		ID:     model.TripID(id),
		UserID: model.UserID(owner),
		Destination: model.Destination{
			Slug: "rrg",
			Name: "Red River Gorge",
		},
		Dates:       model.DateRange{Start: model.NewDate(2027, 3, from), End: model.NewDate(2027, 3, to)},
		Disciplines: []model.Discipline{model.Sport},
		GradeSystem: model.YDS,
		MinGrade:    "5.10a",
		MaxGrade:    "5.12a",
		Crags:       []string{"muir-valley"},
		Visibility:  model.LookingForPartners,
		Active:      true,
	}
}

func TestOnTripChanged_HighScoreNotifiedImmediately(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
	f.st.PutTrip(rrgTrip("b1", "bob", 12, 18))
	ev := &events{}
	f.sched.WithEvents(ev)

	created, err := f.sched.OnTripChanged(context.Background(), messaging.TripChanged{TripID: "a1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	// 5 days, same discipline, grade and crag overlap, not friends.
	assert.Equal(t, 85, created[0].Score)
	assert.ElementsMatch(t, []model.UserID{"alice", "bob"}, ev.users)

	sent := f.out.all()
	require.Len(t, sent, 2)
	for _, n := range sent {
		assert.Equal(t, notify.Critical, n.Priority)
		assert.Contains(t, n.Message, "Red River Gorge")
	}

	o, err := f.st.GetOverlap(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.True(t, o.NotificationSent)

	n, err := f.sched.NotifyPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnTripChanged_LowScoreWaitsForPendingJob(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
	other := rrgTrip("b1", "bob", 16, 20)
	other.Disciplines = []model.Discipline{model.Trad}
	other.Crags = nil
	other.MinGrade, other.MaxGrade = "", ""
	f.st.PutTrip(other)

	created, err := f.sched.OnTripChanged(context.Background(), messaging.TripChanged{TripID: "b1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Less(t, created[0].Score, notify.HighScore)
	assert.Empty(t, f.out.all())

	n, err := f.sched.NotifyPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent := f.out.all()
	require.Len(t, sent, 2)
	byRecipient := map[model.UserID]notify.Notification{}
	for _, s := range sent {
		byRecipient[s.Recipient] = s
	}
	assert.Contains(t, byRecipient["bob"].Message, "Alice's trip")
	assert.Contains(t, byRecipient["alice"].Message, "Bob's trip")
	assert.Equal(t, notify.Normal, byRecipient["alice"].Priority)

	n, err = f.sched.NotifyPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnTripChanged_Throttle(t *testing.T) {
	t.Run("limited", func(t *testing.T) {
		f := newFixture(t, DefaultIntervals())
		f.user("alice", "Alice", nil)
		f.user("bob", "Bob", nil)
		f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
		f.st.PutTrip(rrgTrip("b1", "bob", 12, 18))
		th := &throttle{allowed: false}
		f.sched.WithThrottle(th)

		created, err := f.sched.OnTripChanged(context.Background(), messaging.TripChanged{TripID: "a1"})
		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Equal(t, 1, th.calls)
		assert.Zero(t, f.st.OverlapCount())
	})

	t.Run("fails open", func(t *testing.T) {
		f := newFixture(t, DefaultIntervals())
		f.user("alice", "Alice", nil)
		f.user("bob", "Bob", nil)
		f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
		f.st.PutTrip(rrgTrip("b1", "bob", 12, 18))
		f.sched.WithThrottle(&throttle{allowed: true, err: errors.New("redis down")})

		created, err := f.sched.OnTripChanged(context.Background(), messaging.TripChanged{TripID: "a1"})
		require.NoError(t, err)
		assert.Len(t, created, 1)
	})
}

func TestOnTripChanged_RequiresTripID(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	_, err := f.sched.OnTripChanged(context.Background(), messaging.TripChanged{UserID: "alice"})
	assert.Error(t, err)
}

func TestNotifyPending_SkipsStartedOverlaps(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutOverlap(&model.Overlap{
		ID:          "started",
		User1:       "alice",
		User2:       "bob",
		Trip1:       "a1",
		Trip2:       "b1",
		Destination: "rrg",
		Start:       model.NewDate(2027, 2, 27),
		End:         model.NewDate(2027, 3, 3),
		Days:        5,
		Score:       40,
	})

	n, err := f.sched.NotifyPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.out.all())
}

func TestCrossPathSweep(t *testing.T) {
	boulder := &geo.Point{Lat: 40.015, Lng: -105.2705}
	eldo := &geo.Point{Lat: 39.9317, Lng: -105.2831}
	yosemite := &geo.Point{Lat: 37.8651, Lng: -119.5383}

	trip := func(id, owner string, loc *geo.Point, vis model.VisibilityStatus) *model.Trip {
		return &model.Trip{
			ID:          model.TripID(id),
			UserID:      model.UserID(owner),
			Destination: model.Destination{Slug: id, Name: "Crag " + id, Location: loc},
			Dates:       model.DateRange{Start: model.NewDate(2027, 4, 1), End: model.NewDate(2027, 4, 5)},
			Visibility:  vis,
			Active:      true,
		}
	}

	f := newFixture(t, DefaultIntervals())
	f.user("carol", "Carol", boulder)
	f.user("dave", "Dave", nil)
	f.user("erin", "Erin", nil)
	f.user("frank", "Frank", nil)
	f.st.SetFriendship("carol", "dave", model.FriendshipAccepted)
	f.st.SetFriendship("frank", "carol", model.FriendshipAccepted)
	f.st.Block("frank", "carol")

	f.st.PutTrip(trip("eldo", "dave", eldo, model.OpenToFriends))
	f.st.PutTrip(trip("eldo-private", "dave", eldo, model.FullPrivate))
	f.st.PutTrip(trip("yosemite", "dave", yosemite, model.LookingForPartners))
	f.st.PutTrip(trip("eldo-erin", "erin", eldo, model.LookingForPartners))
	f.st.PutTrip(trip("eldo-frank", "frank", eldo, model.LookingForPartners))

	n, err := f.sched.CrossPathSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent := f.out.all()
	require.Len(t, sent, 1)
	assert.Equal(t, model.UserID("carol"), sent[0].Recipient)
	assert.Equal(t, notify.CrossPath, sent[0].Type)
	assert.Equal(t, "Dave is coming to your area!", sent[0].Title)
	assert.Equal(t, "eldo", sent[0].Metadata["trip_id"])
}

func TestDetectAllAndCleanup(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
	f.st.PutTrip(rrgTrip("b1", "bob", 12, 18))
	f.st.PutOverlap(&model.Overlap{
		ID:          "old",
		User1:       "alice",
		User2:       "bob",
		Trip1:       "old-a",
		Trip2:       "old-b",
		Destination: "rrg",
		Start:       model.NewDate(2026, 12, 1),
		End:         model.NewDate(2026, 12, 3),
		Days:        3,
	})

	require.NoError(t, f.sched.DetectAllAndCleanup(context.Background()))
	assert.Equal(t, 1, f.st.OverlapCount())
	_, err := f.st.GetOverlap(context.Background(), "old")
	assert.Error(t, err)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	f := newFixture(t, Intervals{
		DetectAll:     time.Hour,
		NotifyPending: 10 * time.Millisecond,
	})
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutOverlap(&model.Overlap{
		ID:          "pending",
		User1:       "alice",
		User2:       "bob",
		Trip1:       "a1",
		Trip2:       "b1",
		Destination: "rrg",
		Start:       model.NewDate(2027, 3, 12),
		End:         model.NewDate(2027, 3, 16),
		Days:        5,
		Score:       50,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(f.out.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type heldSink struct {
	hold chan struct{}
}

func (h *heldSink) Notify(_ context.Context, _ notify.Notification) error {
	<-h.hold
	return nil
}

func pendingOverlap(id string) *model.Overlap {
	return &model.Overlap{
		ID:          model.OverlapID(id),
		User1:       "alice",
		User2:       "bob",
		Trip1:       model.TripID(id + "-a"),
		Trip2:       model.TripID(id + "-b"),
		Destination: "rrg",
		Start:       model.NewDate(2027, 3, 12),
		End:         model.NewDate(2027, 3, 16),
		Days:        5,
		Score:       50,
	}
}

func TestNotifyPending_DroppedNotificationsStayPending(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	for _, id := range []string{"o1", "o2", "o3"} {
		f.st.PutOverlap(pendingOverlap(id))
	}

	// The worker blocks on the first notification and the buffer holds one
	// more, so at most one overlap gets both of its notifications queued.
	sink := &heldSink{hold: make(chan struct{})}
	d := notify.NewDispatcher(sink, 1, logger.Nop())
	f.sched.notifier = d

	ctx := context.Background()
	first, err := f.sched.NotifyPending(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, first, 1)

	left, err := f.st.ListUnnotifiedOverlaps(ctx, now)
	require.NoError(t, err)
	assert.Len(t, left, 3-first)

	close(sink.hold)
	d.Close()

	f.sched.notifier = f.out
	second, err := f.sched.NotifyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first+second)
	assert.Len(t, f.out.all(), 2*second)

	left, err = f.st.ListUnnotifiedOverlaps(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOnTripChanged_ClosedDispatcherLeavesOverlapPending(t *testing.T) {
	f := newFixture(t, DefaultIntervals())
	f.user("alice", "Alice", nil)
	f.user("bob", "Bob", nil)
	f.st.PutTrip(rrgTrip("a1", "alice", 10, 16))
	f.st.PutTrip(rrgTrip("b1", "bob", 12, 18))

	d := notify.NewDispatcher(f.out, 4, logger.Nop())
	d.Close()
	f.sched.notifier = d

	ctx := context.Background()
	created, err := f.sched.OnTripChanged(ctx, messaging.TripChanged{TripID: "a1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.True(t, notify.IsHighScore(created[0]))

	o, err := f.st.GetOverlap(ctx, created[0].ID)
	require.NoError(t, err)
	assert.False(t, o.NotificationSent)

	f.sched.notifier = f.out
	n, err := f.sched.NotifyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.out.all(), 2)
	for _, sent := range f.out.all() {
		assert.Contains(t, sent.Message, "Red River Gorge")
	}
}

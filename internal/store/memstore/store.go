// Package memstore is an in-memory implementation of store.Store. It is used
// by tests and by `engine serve --store=memory` for local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
)

type edge struct {
	from, to model.UserID
}

// Store keeps every record in maps guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex

	users       map[model.UserID]*model.User
	profiles    map[model.UserID][]model.ClimberProfile
	trips       map[model.TripID]*model.Trip
	friendships map[edge]model.FriendshipStatus
	blocks      map[edge]struct{}
	overlaps    map[model.OverlapID]*model.Overlap
	pairs       map[model.PairKey]model.OverlapID
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[model.UserID]*model.User),
		profiles:    make(map[model.UserID][]model.ClimberProfile),
		trips:       make(map[model.TripID]*model.Trip),
		friendships: make(map[edge]model.FriendshipStatus),
		blocks:      make(map[edge]struct{}),
		overlaps:    make(map[model.OverlapID]*model.Overlap),
		pairs:       make(map[model.PairKey]model.OverlapID),
	}
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Store) PutProfile(p model.ClimberProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.profiles[p.UserID]
	for i := range list {
		if list[i].Discipline == p.Discipline {
			list[i] = p
			return
		}
	}
	s.profiles[p.UserID] = append(list, p)
}

func (s *Store) PutTrip(t *model.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = cloneTrip(t)
}

// SetFriendship records a directed request from requester to addressee.
func (s *Store) SetFriendship(requester, addressee model.UserID, status model.FriendshipStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendships[edge{requester, addressee}] = status
}

func (s *Store) Block(blocker, blocked model.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[edge{blocker, blocked}] = struct{}{}
}

// PutOverlap stores o as-is, bypassing the detection path.
func (s *Store) PutOverlap(o *model.Overlap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.overlaps[o.ID] = &cp
	s.pairs[model.TripPairKey(o.Trip1, o.Trip2)] = o.ID
}

// OverlapCount returns the number of stored overlaps.
func (s *Store) OverlapCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overlaps)
}

// ---------------------------------------------------------------------------
// Users and social graph
// ---------------------------------------------------------------------------

func (s *Store) GetUser(_ context.Context, id model.UserID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UsersByID(_ context.Context, ids []model.UserID) (map[model.UserID]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.UserID]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) UsersWithHome(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.User
	for _, u := range s.users {
		if u.Home != nil {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UsersWithUpcomingTrips(_ context.Context, today time.Time) ([]model.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.UserID]bool)
	var out []model.UserID
	for _, t := range s.trips {
		if t.Active && t.Upcoming(today) && !seen[t.UserID] {
			seen[t.UserID] = true
			out = append(out, t.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) FriendIDsOf(_ context.Context, id model.UserID) ([]model.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.UserID]bool)
	var out []model.UserID
	for e, status := range s.friendships {
		if status != model.FriendshipAccepted {
			continue
		}
		var other model.UserID
		switch id {
		case e.from:
			other = e.to
		case e.to:
			other = e.from
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) BlockedEitherWay(_ context.Context, id model.UserID) ([]model.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.UserID]bool)
	var out []model.UserID
	for e := range s.blocks {
		var other model.UserID
		switch id {
		case e.from:
			other = e.to
		case e.to:
			other = e.from
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

func (s *Store) IsBlockedEitherWay(_ context.Context, a, b model.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ab := s.blocks[edge{a, b}]
	_, ba := s.blocks[edge{b, a}]
	return ab || ba, nil
}

func (s *Store) ProfilesFor(_ context.Context, ids []model.UserID) (map[model.UserID][]model.ClimberProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.UserID][]model.ClimberProfile, len(ids))
	for _, id := range ids {
		if list, ok := s.profiles[id]; ok {
			out[id] = append([]model.ClimberProfile(nil), list...)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Trips
// ---------------------------------------------------------------------------

func (s *Store) GetTrip(_ context.Context, id model.TripID) (*model.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTrip(t), nil
}

// DestinationNames reads names off stored trips since destinations have no
// table of their own here.
func (s *Store) DestinationNames(_ context.Context, slugs []string) (map[string]string, error) {
	want := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		want[slug] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(slugs))
	for _, t := range s.trips {
		d := t.Destination
		if want[d.Slug] && d.Name != "" {
			out[d.Slug] = d.Name
		}
	}
	return out, nil
}

func (s *Store) FindActiveTrip(_ context.Context, user model.UserID, today time.Time) (*model.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trips := s.filterTrips(func(t *model.Trip) bool {
		return t.UserID == user && t.Active && t.Upcoming(today)
	})
	if len(trips) == 0 {
		return nil, store.ErrNotFound
	}
	return trips[0], nil
}

func (s *Store) FindTripsOverlapping(_ context.Context, destination string, r model.DateRange, exclude model.UserID) ([]*model.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTrips(func(t *model.Trip) bool {
		return t.Active &&
			t.UserID != exclude &&
			t.Destination.Slug == destination &&
			t.Dates.Overlaps(r)
	}), nil
}

func (s *Store) UpcomingTripsOf(_ context.Context, user model.UserID, today time.Time) ([]*model.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTrips(func(t *model.Trip) bool {
		return t.UserID == user && t.Active && t.Upcoming(today)
	}), nil
}

func (s *Store) UpcomingTripsOfUsers(_ context.Context, users []model.UserID, today time.Time) ([]*model.Trip, error) {
	want := make(map[model.UserID]bool, len(users))
	for _, u := range users {
		want[u] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTrips(func(t *model.Trip) bool {
		return want[t.UserID] && t.Active && t.Upcoming(today)
	}), nil
}

// filterTrips returns clones of matching trips ordered by start date then id.
// Callers must hold the read lock.
func (s *Store) filterTrips(keep func(*model.Trip) bool) []*model.Trip {
	var out []*model.Trip
	for _, t := range s.trips {
		if keep(t) {
			out = append(out, cloneTrip(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Dates.Start.Equal(out[j].Dates.Start) {
			return out[i].Dates.Start.Before(out[j].Dates.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ---------------------------------------------------------------------------
// Overlaps
// ---------------------------------------------------------------------------

func (s *Store) ExistsOverlapForPair(_ context.Context, a, b model.TripID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairs[model.TripPairKey(a, b)]
	return ok, nil
}

func (s *Store) InsertOverlapIfAbsent(_ context.Context, o *model.Overlap) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.TripPairKey(o.Trip1, o.Trip2)
	if _, ok := s.pairs[key]; ok {
		return false, nil
	}
	cp := *o
	s.overlaps[o.ID] = &cp
	s.pairs[key] = o.ID
	return true, nil
}

func (s *Store) GetOverlap(_ context.Context, id model.OverlapID) (*model.Overlap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overlaps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) SetDismissed(_ context.Context, id model.OverlapID, side model.Side, dismissed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlaps[id]
	if !ok {
		return store.ErrNotFound
	}
	switch side {
	case model.Side1:
		o.User1Dismissed = dismissed
	case model.Side2:
		o.User2Dismissed = dismissed
	}
	return nil
}

func (s *Store) ListOverlapsForUser(_ context.Context, user model.UserID, today time.Time, includeDismissed bool) ([]*model.Overlap, error) {
	today = model.DateOf(today)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Overlap
	for _, o := range s.overlaps {
		if o.SideOf(user) == model.NoSide || o.End.Before(today) {
			continue
		}
		if !includeDismissed && o.DismissedBy(user) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (s *Store) ListUnnotifiedOverlaps(_ context.Context, today time.Time) ([]*model.Overlap, error) {
	today = model.DateOf(today)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Overlap
	for _, o := range s.overlaps {
		if o.NotificationSent || o.Start.Before(today) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) MarkOverlapNotified(_ context.Context, id model.OverlapID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlaps[id]
	if !ok {
		return store.ErrNotFound
	}
	o.NotificationSent = true
	o.NotificationSentAt = &at
	return nil
}

func (s *Store) DeleteExpiredOverlaps(_ context.Context, cutoff time.Time) (int64, error) {
	cutoff = model.DateOf(cutoff)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.overlaps {
		if o.End.Before(cutoff) {
			delete(s.overlaps, id)
			delete(s.pairs, model.TripPairKey(o.Trip1, o.Trip2))
			n++
		}
	}
	return n, nil
}

func cloneTrip(t *model.Trip) *model.Trip {
	cp := *t
	cp.Disciplines = append([]model.Discipline(nil), t.Disciplines...)
	cp.Crags = append([]string(nil), t.Crags...)
	cp.Availability = append([]model.Availability(nil), t.Availability...)
	return &cp
}

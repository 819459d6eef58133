package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange_Intersect(t *testing.T) {
	cases := []struct {
		name     string
		a, b     DateRange
		ok       bool
		wantDays int
	}{
		{
			name:     "partial overlap",
			a:        DateRange{NewDate(2027, 1, 1), NewDate(2027, 1, 5)},
			b:        DateRange{NewDate(2027, 1, 3), NewDate(2027, 1, 8)},
			ok:       true,
			wantDays: 3,
		},
		{
			name:     "single shared day",
			a:        DateRange{NewDate(2027, 1, 1), NewDate(2027, 1, 5)},
			b:        DateRange{NewDate(2027, 1, 5), NewDate(2027, 1, 9)},
			ok:       true,
			wantDays: 1,
		},
		{
			name:     "contained",
			a:        DateRange{NewDate(2027, 3, 1), NewDate(2027, 3, 31)},
			b:        DateRange{NewDate(2027, 3, 10), NewDate(2027, 3, 12)},
			ok:       true,
			wantDays: 3,
		},
		{
			name: "disjoint",
			a:    DateRange{NewDate(2027, 1, 1), NewDate(2027, 1, 5)},
			b:    DateRange{NewDate(2027, 1, 6), NewDate(2027, 1, 9)},
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ab, okAB := tc.a.Intersect(tc.b)
			ba, okBA := tc.b.Intersect(tc.a)

			assert.Equal(t, tc.ok, okAB)
			assert.Equal(t, okAB, okBA)
			assert.Equal(t, ab, ba)
			assert.Equal(t, tc.wantDays, OverlapDays(tc.a, tc.b))
			assert.Equal(t, OverlapDays(tc.a, tc.b), OverlapDays(tc.b, tc.a))
			assert.Equal(t, tc.ok, tc.a.Overlaps(tc.b))
		})
	}
}

func TestDateRange_DaysInvalid(t *testing.T) {
	r := DateRange{NewDate(2027, 1, 5), NewDate(2027, 1, 1)}
	assert.False(t, r.Valid())
	assert.Equal(t, 0, r.Days())
}

func TestRiskTolerance_Ordinal(t *testing.T) {
	assert.Equal(t, 0, Conservative.Ordinal())
	assert.Equal(t, 1, Balanced.Ordinal())
	assert.Equal(t, 2, Aggressive.Ordinal())
	assert.Equal(t, 1, RiskTolerance("").Ordinal())
}

func TestClimberProfile_Validate(t *testing.T) {
	require.NoError(t, ClimberProfile{Discipline: Sport, MinScore: 30, MaxScore: 45}.Validate())
	require.NoError(t, ClimberProfile{Discipline: Trad, MinScore: 40, MaxScore: 40}.Validate())
	require.Error(t, ClimberProfile{Discipline: Sport, MinScore: 50, MaxScore: 45}.Validate())
	require.Error(t, ClimberProfile{Discipline: "ice", MinScore: 1, MaxScore: 2}.Validate())
}

func TestOverlap_SideOf(t *testing.T) {
	o := &Overlap{User1: "alice", User2: "bob", Trip1: "t1", Trip2: "t2", User2Dismissed: true}

	assert.Equal(t, Side1, o.SideOf("alice"))
	assert.Equal(t, Side2, o.SideOf("bob"))
	assert.Equal(t, NoSide, o.SideOf("carol"))
	assert.False(t, o.DismissedBy("alice"))
	assert.True(t, o.DismissedBy("bob"))

	user, trip := o.Other("bob")
	assert.Equal(t, UserID("alice"), user)
	assert.Equal(t, TripID("t1"), trip)
}

func TestTripPairKey_Unordered(t *testing.T) {
	assert.Equal(t, TripPairKey("a", "b"), TripPairKey("b", "a"))
	assert.Equal(t, TripID("a"), TripPairKey("b", "a").Lo)
}

func TestUser_UnmarshalProfileVisibleDefault(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":"alice","display_name":"Alice"}`), &u))
	assert.True(t, u.ProfileVisible)
	assert.Equal(t, UserID("alice"), u.ID)

	var hidden User
	require.NoError(t, json.Unmarshal([]byte(`{"id":"bob","profile_visible":false}`), &hidden))
	assert.False(t, hidden.ProfileVisible)
}

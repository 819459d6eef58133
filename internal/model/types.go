// Package model defines the climbers, trips and overlaps shared by the
// matching and overlap engines.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cragmate/partner-engine/internal/geo"
)

type (
	UserID    string
	TripID    string
	OverlapID string
)

// Discipline is a climbing style.
type Discipline string

const (
	Sport      Discipline = "sport"
	Trad       Discipline = "trad"
	Bouldering Discipline = "bouldering"
	Multipitch Discipline = "multipitch"
	Gym        Discipline = "gym"
)

// Disciplines lists every discipline in canonical order. Whenever a single
// discipline has to be picked from a set, the first one in this order wins.
var Disciplines = []Discipline{Sport, Trad, Bouldering, Multipitch, Gym}

// Valid reports whether d is a known discipline.
func (d Discipline) Valid() bool {
	for _, known := range Disciplines {
		if d == known {
			return true
		}
	}
	return false
}

// RiskTolerance describes how much objective risk a climber accepts.
type RiskTolerance string

const (
	Conservative RiskTolerance = "conservative"
	Balanced     RiskTolerance = "balanced"
	Aggressive   RiskTolerance = "aggressive"
)

// Ordinal maps the tolerance onto 0..2. Unknown or empty values count as
// balanced.
func (r RiskTolerance) Ordinal() int {
	switch r {
	case Conservative:
		return 0
	case Aggressive:
		return 2
	default:
		return 1
	}
}

type GradeSystem string

const (
	YDS    GradeSystem = "yds"
	French GradeSystem = "french"
	VScale GradeSystem = "v_scale"
)

// VisibilityStatus controls who may see or match against a trip.
type VisibilityStatus string

const (
	FullPrivate        VisibilityStatus = "full_private"
	OpenToFriends      VisibilityStatus = "open_to_friends"
	LookingForPartners VisibilityStatus = "looking_for_partners"
)

type TimeBlock string

const (
	Morning   TimeBlock = "morning"
	Afternoon TimeBlock = "afternoon"
	FullDay   TimeBlock = "full_day"
	Rest      TimeBlock = "rest"
)

type FriendshipStatus string

const (
	FriendshipPending   FriendshipStatus = "pending"
	FriendshipAccepted  FriendshipStatus = "accepted"
	FriendshipFollowing FriendshipStatus = "following"
)

// Destination is a top-level climbing area. Slug is its identity key.
type Destination struct {
	Slug     string     `json:"slug"`
	Name     string     `json:"name"`
	Location *geo.Point `json:"location,omitempty"`
}

// User carries the profile fields the engines read.
type User struct {
	ID            UserID `json:"id"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
	// ProfileVisible defaults to true when the source omits it: the users
	// table, the seed loader and UnmarshalJSON all apply that default. A User
	// built as a Go literal must set it explicitly, since the zero value hides
	// the profile.
	ProfileVisible bool          `json:"profile_visible"`
	RiskTolerance  RiskTolerance `json:"risk_tolerance"`
	Home           *geo.Point    `json:"home,omitempty"`
}

// UnmarshalJSON decodes u, treating an absent profile_visible as visible.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	p := plain{ProfileVisible: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = User(p)
	return nil
}

// Name returns the display name, falling back to the id.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return string(u.ID)
}

// ClimberProfile is a user's comfortable grade band for one discipline,
// expressed on the normalized 0-100 grade score scale.
type ClimberProfile struct {
	UserID      UserID      `json:"user_id"`
	Discipline  Discipline  `json:"discipline"`
	GradeSystem GradeSystem `json:"grade_system"`
	MinScore    int         `json:"min_score"`
	MaxScore    int         `json:"max_score"`
}

// Width is the span of the comfortable grade band.
func (p ClimberProfile) Width() int {
	return p.MaxScore - p.MinScore
}

func (p ClimberProfile) Validate() error {
	if !p.Discipline.Valid() {
		return fmt.Errorf("model: unknown discipline %q", p.Discipline)
	}
	if p.MinScore < 0 || p.MaxScore > 100 {
		return fmt.Errorf("model: grade scores out of range [%d,%d]", p.MinScore, p.MaxScore)
	}
	if p.MinScore > p.MaxScore {
		return fmt.Errorf("model: min grade score %d above max %d", p.MinScore, p.MaxScore)
	}
	return nil
}

// Availability is one (date, time-of-day) slot inside a trip.
type Availability struct {
	Date  time.Time `json:"date"`
	Block TimeBlock `json:"block"`
}

// Trip is a climbing trip: a destination plus a date range and preferences.
type Trip struct {
	ID           TripID           `json:"id"`
	UserID       UserID           `json:"user_id"`
	Destination  Destination      `json:"destination"`
	Dates        DateRange        `json:"dates"`
	Disciplines  []Discipline     `json:"disciplines,omitempty"`
	GradeSystem  GradeSystem      `json:"grade_system,omitempty"`
	MinGrade     string           `json:"min_grade,omitempty"`
	MaxGrade     string           `json:"max_grade,omitempty"`
	Crags        []string         `json:"crags,omitempty"`
	Availability []Availability   `json:"availability,omitempty"`
	Visibility   VisibilityStatus `json:"visibility"`
	Active       bool             `json:"active"`
}

func (t *Trip) Validate() error {
	if t.Destination.Slug == "" {
		return fmt.Errorf("model: trip %s has no destination", t.ID)
	}
	if !t.Dates.Valid() {
		return fmt.Errorf("model: trip %s ends before it starts", t.ID)
	}
	return nil
}

// Upcoming reports whether the trip has not ended before today.
func (t *Trip) Upcoming(today time.Time) bool {
	return !t.Dates.End.Before(DateOf(today))
}

// HasGradeRange reports whether both ends of the trip's grade range are set.
func (t *Trip) HasGradeRange() bool {
	return t.MinGrade != "" && t.MaxGrade != ""
}

// Overlap is a persisted coincidence of two users' trips at one destination.
type Overlap struct {
	ID                 OverlapID  `json:"id"`
	User1              UserID     `json:"user1"`
	User2              UserID     `json:"user2"`
	Trip1              TripID     `json:"trip1"`
	Trip2              TripID     `json:"trip2"`
	Destination        string     `json:"destination"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	Days               int        `json:"days"`
	Score              int        `json:"score"`
	User1Dismissed     bool       `json:"user1_dismissed"`
	User2Dismissed     bool       `json:"user2_dismissed"`
	NotificationSent   bool       `json:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
	DetectedAt         time.Time  `json:"detected_at"`
}

// Side identifies which half of an overlap a user owns.
type Side int

const (
	NoSide Side = iota
	Side1
	Side2
)

// SideOf returns the side owned by user, or NoSide if the user is not a
// party to the overlap.
func (o *Overlap) SideOf(user UserID) Side {
	switch user {
	case o.User1:
		return Side1
	case o.User2:
		return Side2
	default:
		return NoSide
	}
}

// DismissedBy reports whether user has dismissed the overlap.
func (o *Overlap) DismissedBy(user UserID) bool {
	switch o.SideOf(user) {
	case Side1:
		return o.User1Dismissed
	case Side2:
		return o.User2Dismissed
	default:
		return false
	}
}

// Other returns the counterpart user and trip for user.
func (o *Overlap) Other(user UserID) (UserID, TripID) {
	if o.SideOf(user) == Side2 {
		return o.User1, o.Trip1
	}
	return o.User2, o.Trip2
}

// PairKey identifies an unordered pair of trips.
type PairKey struct {
	Lo, Hi TripID
}

// TripPairKey returns the unordered key for a and b.
func TripPairKey(a, b TripID) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

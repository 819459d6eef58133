// Package seed loads users, trips and the social graph from a YAML fixture
// into either store implementation.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cragmate/partner-engine/internal/geo"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store/memstore"
)

// Writer is the write side both stores expose for fixtures.
type Writer interface {
	PutUser(ctx context.Context, u *model.User) error
	PutProfile(ctx context.Context, p model.ClimberProfile) error
	PutTrip(ctx context.Context, t *model.Trip) error
	SetFriendship(ctx context.Context, requester, addressee model.UserID, status model.FriendshipStatus) error
	Block(ctx context.Context, blocker, blocked model.UserID) error
}

// Fixture is the YAML document layout.
type Fixture struct {
	Users       []User       `yaml:"users"`
	Trips       []Trip       `yaml:"trips"`
	Friendships []Friendship `yaml:"friendships"`
	Blocks      []Block      `yaml:"blocks"`
}

type Point struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

type User struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	EmailVerified  *bool     `yaml:"email_verified"`
	ProfileVisible *bool     `yaml:"profile_visible"`
	Risk           string    `yaml:"risk"`
	Home           *Point    `yaml:"home"`
	Profiles       []Profile `yaml:"profiles"`
}

type Profile struct {
	Discipline string `yaml:"discipline"`
	System     string `yaml:"system"`
	Min        int    `yaml:"min"`
	Max        int    `yaml:"max"`
}

type Trip struct {
	ID           string   `yaml:"id"`
	User         string   `yaml:"user"`
	Destination  string   `yaml:"destination"`
	Name         string   `yaml:"name"`
	Location     *Point   `yaml:"location"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	Disciplines  []string `yaml:"disciplines"`
	GradeSystem  string   `yaml:"grade_system"`
	MinGrade     string   `yaml:"min_grade"`
	MaxGrade     string   `yaml:"max_grade"`
	Crags        []string `yaml:"crags"`
	Availability []Slot   `yaml:"availability"`
	Visibility   string   `yaml:"visibility"`
	Active       *bool    `yaml:"active"`
}

type Slot struct {
	Date  string `yaml:"date"`
	Block string `yaml:"block"`
}

type Friendship struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Status string `yaml:"status"`
}

type Block struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LoadFile parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return &f, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func point(p *Point) *geo.Point {
	if p == nil {
		return nil
	}
	return &geo.Point{Lat: p.Lat, Lng: p.Lng}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return model.DateOf(t), nil
}

// Apply writes the fixture to w. Users go first so trips and edges can
// reference them. Every record is validated before it is written.
func (f *Fixture) Apply(ctx context.Context, w Writer) error {
	for _, u := range f.Users {
		user := &model.User{
			ID:             model.UserID(u.ID),
			DisplayName:    u.Name,
			EmailVerified:  boolOr(u.EmailVerified, true),
			ProfileVisible: boolOr(u.ProfileVisible, true),
			RiskTolerance:  model.RiskTolerance(u.Risk),
			Home:           point(u.Home),
		}
		if err := w.PutUser(ctx, user); err != nil {
			return err
		}
		for _, p := range u.Profiles {
			profile := model.ClimberProfile{
				UserID:      user.ID,
				Discipline:  model.Discipline(p.Discipline),
				GradeSystem: model.GradeSystem(p.System),
				MinScore:    p.Min,
				MaxScore:    p.Max,
			}
			if err := profile.Validate(); err != nil {
				return fmt.Errorf("seed: user %s: %w", u.ID, err)
			}
			if err := w.PutProfile(ctx, profile); err != nil {
				return err
			}
		}
	}

	for _, t := range f.Trips {
		trip, err := t.model()
		if err != nil {
			return fmt.Errorf("seed: trip %s: %w", t.ID, err)
		}
		if err := w.PutTrip(ctx, trip); err != nil {
			return err
		}
	}

	for _, fr := range f.Friendships {
		status := model.FriendshipStatus(fr.Status)
		if status == "" {
			status = model.FriendshipAccepted
		}
		if err := w.SetFriendship(ctx, model.UserID(fr.From), model.UserID(fr.To), status); err != nil {
			return err
		}
	}
	for _, b := range f.Blocks {
		if err := w.Block(ctx, model.UserID(b.From), model.UserID(b.To)); err != nil {
			return err
		}
	}
	return nil
}

func (t Trip) model() (*model.Trip, error) {
	start, err := parseDate(t.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := parseDate(t.End)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	trip := &model.Trip{
		ID:     model.TripID(t.ID),
		UserID: model.UserID(t.User),
		Destination: model.Destination{
			Slug:     t.Destination,
			Name:     t.Name,
			Location: point(t.Location),
		},
		Dates:       model.DateRange{Start: start, End: end},
		GradeSystem: model.GradeSystem(t.GradeSystem),
		MinGrade:    t.MinGrade,
		MaxGrade:    t.MaxGrade,
		Crags:       t.Crags,
		Visibility:  model.VisibilityStatus(t.Visibility),
		Active:      boolOr(t.Active, true),
	}
	if trip.Visibility == "" {
		trip.Visibility = model.OpenToFriends
	}
	for _, d := range t.Disciplines {
		trip.Disciplines = append(trip.Disciplines, model.Discipline(d))
	}
	for _, s := range t.Availability {
		day, err := parseDate(s.Date)
		if err != nil {
			return nil, fmt.Errorf("availability: %w", err)
		}
		trip.Availability = append(trip.Availability, model.Availability{Date: day, Block: model.TimeBlock(s.Block)})
	}
	if err := trip.Validate(); err != nil {
		return nil, err
	}
	return trip, nil
}

// Memory adapts a memstore.Store to Writer.
func Memory(st *memstore.Store) Writer {
	return memWriter{st}
}

type memWriter struct {
	st *memstore.Store
}

func (m memWriter) PutUser(_ context.Context, u *model.User) error {
	m.st.PutUser(u)
	return nil
}

func (m memWriter) PutProfile(_ context.Context, p model.ClimberProfile) error {
	m.st.PutProfile(p)
	return nil
}

func (m memWriter) PutTrip(_ context.Context, t *model.Trip) error {
	m.st.PutTrip(t)
	return nil
}

func (m memWriter) SetFriendship(_ context.Context, requester, addressee model.UserID, status model.FriendshipStatus) error {
	m.st.SetFriendship(requester, addressee, status)
	return nil
}

func (m memWriter) Block(_ context.Context, blocker, blocked model.UserID) error {
	m.st.Block(blocker, blocked)
	return nil
}

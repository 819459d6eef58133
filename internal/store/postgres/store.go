// Package postgres implements store.Store on PostgreSQL using database/sql
// and lib/pq. The schema lives in migrations/ and is embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cragmate/partner-engine/internal/geo"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
)

// Store manages users, trips and overlaps in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

func date(t time.Time) string {
	return t.Format(time.DateOnly)
}

func userIDs(ids []model.UserID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// ---------------------------------------------------------------------------
// Users and social graph
// ---------------------------------------------------------------------------

const userColumns = `id, display_name, email_verified, profile_visible, risk_tolerance, home_lat, home_lng`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		risk     string
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.EmailVerified, &u.ProfileVisible, &risk, &lat, &lng); err != nil {
		return nil, err
	}
	u.RiskTolerance = model.RiskTolerance(risk)
	if lat.Valid && lng.Valid {
		u.Home = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error) {
	out := make(map[model.UserID]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, userIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: users by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *Store) UsersWithHome(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE home_lat IS NOT NULL AND home_lng IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: users with home: %w", err)
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UsersWithUpcomingTrips(ctx context.Context, today time.Time) ([]model.UserID, error) {
	return s.queryUserIDs(ctx, `
		SELECT DISTINCT user_id FROM trips
		WHERE active AND end_date >= $1
		ORDER BY user_id`, date(today))
}

func (s *Store) FriendIDsOf(ctx context.Context, id model.UserID) ([]model.UserID, error) {
	return s.queryUserIDs(ctx, `
		SELECT addressee_id FROM friendships WHERE requester_id = $1 AND status = 'accepted'
		UNION
		SELECT requester_id FROM friendships WHERE addressee_id = $1 AND status = 'accepted'
		ORDER BY 1`, string(id))
}

func (s *Store) BlockedEitherWay(ctx context.Context, id model.UserID) ([]model.UserID, error) {
	return s.queryUserIDs(ctx, `
		SELECT blocked_id FROM blocks WHERE blocker_id = $1
		UNION
		SELECT blocker_id FROM blocks WHERE blocked_id = $1`, string(id))
}

func (s *Store) IsBlockedEitherWay(ctx context.Context, a, b model.UserID) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)`, string(a), string(b)).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("postgres: block check: %w", err)
	}
	return blocked, nil
}

func (s *Store) queryUserIDs(ctx context.Context, query string, args ...any) ([]model.UserID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query user ids: %w", err)
	}
	defer rows.Close()
	var out []model.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user id: %w", err)
		}
		out = append(out, model.UserID(id))
	}
	return out, rows.Err()
}

func (s *Store) ProfilesFor(ctx context.Context, ids []model.UserID) (map[model.UserID][]model.ClimberProfile, error) {
	out := make(map[model.UserID][]model.ClimberProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, discipline, grade_system, min_score, max_score
		FROM climber_profiles WHERE user_id = ANY($1)
		ORDER BY user_id, discipline`, userIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.ClimberProfile
		if err := rows.Scan(&p.UserID, &p.Discipline, &p.GradeSystem, &p.MinScore, &p.MaxScore); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		out[p.UserID] = append(out[p.UserID], p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Trips
// ---------------------------------------------------------------------------

const tripSelect = `
	SELECT t.id, t.user_id, t.destination_slug, d.name, d.lat, d.lng,
	       t.start_date, t.end_date, t.disciplines, t.grade_system, t.min_grade, t.max_grade,
	       t.crags, t.visibility, t.active
	FROM trips t JOIN destinations d ON d.slug = t.destination_slug`

func scanTrip(row rowScanner) (*model.Trip, error) {
	var (
		t           model.Trip
		lat, lng    sql.NullFloat64
		disciplines pq.StringArray
		crags       pq.StringArray
		visibility  string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Destination.Slug, &t.Destination.Name, &lat, &lng,
		&t.Dates.Start, &t.Dates.End, &disciplines, &t.GradeSystem, &t.MinGrade, &t.MaxGrade,
		&crags, &visibility, &t.Active)
	if err != nil {
		return nil, err
	}
	t.Dates = model.NewDateRange(t.Dates.Start, t.Dates.End)
	if lat.Valid && lng.Valid {
		t.Destination.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	for _, d := range disciplines {
		t.Disciplines = append(t.Disciplines, model.Discipline(d))
	}
	if len(crags) > 0 {
		t.Crags = []string(crags)
	}
	t.Visibility = model.VisibilityStatus(visibility)
	return &t, nil
}

// queryTrips runs a trip query and attaches availability in one extra round trip.
func (s *Store) queryTrips(ctx context.Context, query string, args ...any) ([]*model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trips: %w", err)
	}
	var (
		trips []*model.Trip
		ids   pq.StringArray
		byID  = make(map[model.TripID]*model.Trip)
	)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan trip: %w", err)
		}
		trips = append(trips, t)
		ids = append(ids, string(t.ID))
		byID[t.ID] = t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trips: %w", err)
	}
	if len(trips) == 0 {
		return nil, nil
	}

	avail, err := s.db.QueryContext(ctx, `
		SELECT trip_id, day, time_block FROM trip_availability
		WHERE trip_id = ANY($1) ORDER BY trip_id, day, time_block`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: availability: %w", err)
	}
	defer avail.Close()
	for avail.Next() {
		var (
			id model.TripID
			a  model.Availability
		)
		if err := avail.Scan(&id, &a.Date, &a.Block); err != nil {
			return nil, fmt.Errorf("postgres: scan availability: %w", err)
		}
		a.Date = model.DateOf(a.Date)
		if t := byID[id]; t != nil {
			t.Availability = append(t.Availability, a)
		}
	}
	return trips, avail.Err()
}

func (s *Store) GetTrip(ctx context.Context, id model.TripID) (*model.Trip, error) {
	trips, err := s.queryTrips(ctx, tripSelect+` WHERE t.id = $1`, string(id))
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, store.ErrNotFound
	}
	return trips[0], nil
}

func (s *Store) DestinationNames(ctx context.Context, slugs []string) (map[string]string, error) {
	out := make(map[string]string, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name FROM destinations WHERE slug = ANY($1)`, pq.StringArray(slugs))
	if err != nil {
		return nil, fmt.Errorf("postgres: destination names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug, name string
		if err := rows.Scan(&slug, &name); err != nil {
			return nil, fmt.Errorf("postgres: scan destination: %w", err)
		}
		out[slug] = name
	}
	return out, rows.Err()
}

func (s *Store) FindActiveTrip(ctx context.Context, user model.UserID, today time.Time) (*model.Trip, error) {
	trips, err := s.queryTrips(ctx, tripSelect+`
		WHERE t.user_id = $1 AND t.active AND t.end_date >= $2
		ORDER BY t.start_date, t.id LIMIT 1`, string(user), date(today))
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, store.ErrNotFound
	}
	return trips[0], nil
}

func (s *Store) FindTripsOverlapping(ctx context.Context, destination string, r model.DateRange, exclude model.UserID) ([]*model.Trip, error) {
	return s.queryTrips(ctx, tripSelect+`
		WHERE t.destination_slug = $1 AND t.active
		  AND t.start_date <= $3 AND t.end_date >= $2
		  AND t.user_id <> $4
		ORDER BY t.start_date, t.id`, destination, date(r.Start), date(r.End), string(exclude))
}

func (s *Store) UpcomingTripsOf(ctx context.Context, user model.UserID, today time.Time) ([]*model.Trip, error) {
	return s.queryTrips(ctx, tripSelect+`
		WHERE t.user_id = $1 AND t.active AND t.end_date >= $2
		ORDER BY t.start_date, t.id`, string(user), date(today))
}

func (s *Store) UpcomingTripsOfUsers(ctx context.Context, users []model.UserID, today time.Time) ([]*model.Trip, error) {
	if len(users) == 0 {
		return nil, nil
	}
	return s.queryTrips(ctx, tripSelect+`
		WHERE t.user_id = ANY($1) AND t.active AND t.end_date >= $2
		ORDER BY t.start_date, t.id`, userIDs(users), date(today))
}

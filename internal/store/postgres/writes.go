package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/cragmate/partner-engine/internal/model"
)

// The writers below load fixtures and test data. In production these tables
// are owned by the user and trip services.

func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	var lat, lng sql.NullFloat64
	if u.Home != nil {
		lat = sql.NullFloat64{Float64: u.Home.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: u.Home.Lng, Valid: true}
	}
	risk := u.RiskTolerance
	if risk == "" {
		risk = model.Balanced
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email_verified, profile_visible, risk_tolerance, home_lat, home_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email_verified = EXCLUDED.email_verified,
			profile_visible = EXCLUDED.profile_visible,
			risk_tolerance = EXCLUDED.risk_tolerance,
			home_lat = EXCLUDED.home_lat,
			home_lng = EXCLUDED.home_lng`,
		string(u.ID), u.DisplayName, u.EmailVerified, u.ProfileVisible, string(risk), lat, lng)
	if err != nil {
		return fmt.Errorf("postgres: put user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) PutProfile(ctx context.Context, p model.ClimberProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO climber_profiles (user_id, discipline, grade_system, min_score, max_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, discipline) DO UPDATE SET
			grade_system = EXCLUDED.grade_system,
			min_score = EXCLUDED.min_score,
			max_score = EXCLUDED.max_score`,
		string(p.UserID), string(p.Discipline), string(p.GradeSystem), p.MinScore, p.MaxScore)
	if err != nil {
		return fmt.Errorf("postgres: put profile %s/%s: %w", p.UserID, p.Discipline, err)
	}
	return nil
}

func (s *Store) PutDestination(ctx context.Context, d model.Destination) error {
	var lat, lng sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: d.Location.Lng, Valid: true}
	}
	name := d.Name
	if name == "" {
		name = d.Slug
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (slug, name, lat, lng) VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng`,
		d.Slug, name, lat, lng)
	if err != nil {
		return fmt.Errorf("postgres: put destination %s: %w", d.Slug, err)
	}
	return nil
}

// PutTrip upserts the trip, its destination and its availability.
func (s *Store) PutTrip(ctx context.Context, t *model.Trip) error {
	if err := s.PutDestination(ctx, t.Destination); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: put trip %s: %w", t.ID, err)
	}
	defer tx.Rollback()

	disciplines := make(pq.StringArray, len(t.Disciplines))
	for i, d := range t.Disciplines {
		disciplines[i] = string(d)
	}
	crags := pq.StringArray(t.Crags)
	if crags == nil {
		crags = pq.StringArray{}
	}
	vis := t.Visibility
	if vis == "" {
		vis = model.OpenToFriends
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trips (id, user_id, destination_slug, start_date, end_date, disciplines,
		                   grade_system, min_grade, max_grade, crags, visibility, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			destination_slug = EXCLUDED.destination_slug,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			disciplines = EXCLUDED.disciplines,
			grade_system = EXCLUDED.grade_system,
			min_grade = EXCLUDED.min_grade,
			max_grade = EXCLUDED.max_grade,
			crags = EXCLUDED.crags,
			visibility = EXCLUDED.visibility,
			active = EXCLUDED.active`,
		string(t.ID), string(t.UserID), t.Destination.Slug, date(t.Dates.Start), date(t.Dates.End), disciplines,
		string(t.GradeSystem), t.MinGrade, t.MaxGrade, crags, string(vis), t.Active)
	if err != nil {
		return fmt.Errorf("postgres: put trip %s: %w", t.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trip_availability WHERE trip_id = $1`, string(t.ID)); err != nil {
		return fmt.Errorf("postgres: reset availability %s: %w", t.ID, err)
	}
	for _, a := range t.Availability {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trip_availability (trip_id, day, time_block) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, string(t.ID), date(a.Date), string(a.Block))
		if err != nil {
			return fmt.Errorf("postgres: put availability %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SetFriendship(ctx context.Context, requester, addressee model.UserID, status model.FriendshipStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friendships (requester_id, addressee_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (requester_id, addressee_id) DO UPDATE SET status = EXCLUDED.status`,
		string(requester), string(addressee), string(status))
	if err != nil {
		return fmt.Errorf("postgres: friendship %s->%s: %w", requester, addressee, err)
	}
	return nil
}

func (s *Store) Block(ctx context.Context, blocker, blocked model.UserID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, string(blocker), string(blocked))
	if err != nil {
		return fmt.Errorf("postgres: block %s->%s: %w", blocker, blocked, err)
	}
	return nil
}

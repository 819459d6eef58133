package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/store"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const overlapColumns = `
	id, user1_id, user2_id, trip1_id, trip2_id, destination_slug,
	start_date, end_date, days, score, user1_dismissed, user2_dismissed,
	notification_sent, notification_sent_at, detected_at`

func scanOverlap(row rowScanner) (*model.Overlap, error) {
	var (
		o      model.Overlap
		sentAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.User1, &o.User2, &o.Trip1, &o.Trip2, &o.Destination,
		&o.Start, &o.End, &o.Days, &o.Score, &o.User1Dismissed, &o.User2Dismissed,
		&o.NotificationSent, &sentAt, &o.DetectedAt)
	if err != nil {
		return nil, err
	}
	o.Start, o.End = model.DateOf(o.Start), model.DateOf(o.End)
	if sentAt.Valid {
		at := sentAt.Time
		o.NotificationSentAt = &at
	}
	return &o, nil
}

func (s *Store) queryOverlaps(ctx context.Context, query string, args ...any) ([]*model.Overlap, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query overlaps: %w", err)
	}
	defer rows.Close()
	var out []*model.Overlap
	for rows.Next() {
		o, err := scanOverlap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan overlap: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ExistsOverlapForPair(ctx context.Context, a, b model.TripID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trip_overlaps
			WHERE LEAST(trip1_id, trip2_id) = LEAST($1::text, $2::text)
			  AND GREATEST(trip1_id, trip2_id) = GREATEST($1::text, $2::text)
		)`, string(a), string(b)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: pair check: %w", err)
	}
	return exists, nil
}

// InsertOverlapIfAbsent relies on the unordered pair unique index. A row that
// loses the race to a concurrent insert reports created=false.
func (s *Store) InsertOverlapIfAbsent(ctx context.Context, o *model.Overlap) (bool, error) {
	const query = `
		INSERT INTO trip_overlaps (
			id, user1_id, user2_id, trip1_id, trip2_id, destination_slug,
			start_date, end_date, days, score, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		string(o.ID), string(o.User1), string(o.User2), string(o.Trip1), string(o.Trip2), o.Destination,
		date(o.Start), date(o.End), o.Days, o.Score, o.DetectedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("postgres: insert overlap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: insert overlap: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetOverlap(ctx context.Context, id model.OverlapID) (*model.Overlap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+overlapColumns+` FROM trip_overlaps WHERE id = $1`, string(id))
	o, err := scanOverlap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "invalid_text_representation" {
		// Not a UUID, so it cannot exist.
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get overlap %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) SetDismissed(ctx context.Context, id model.OverlapID, side model.Side, dismissed bool) error {
	var query string
	switch side {
	case model.Side1:
		query = `UPDATE trip_overlaps SET user1_dismissed = $2 WHERE id = $1`
	case model.Side2:
		query = `UPDATE trip_overlaps SET user2_dismissed = $2 WHERE id = $1`
	default:
		return fmt.Errorf("postgres: set dismissed %s: invalid side %d", id, side)
	}
	res, err := s.db.ExecContext(ctx, query, string(id), dismissed)
	if err != nil {
		return fmt.Errorf("postgres: set dismissed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListOverlapsForUser(ctx context.Context, user model.UserID, today time.Time, includeDismissed bool) ([]*model.Overlap, error) {
	return s.queryOverlaps(ctx, `SELECT `+overlapColumns+` FROM trip_overlaps
		WHERE (user1_id = $1 OR user2_id = $1)
		  AND end_date >= $2
		  AND ($3 OR NOT ((user1_id = $1 AND user1_dismissed) OR (user2_id = $1 AND user2_dismissed)))
		ORDER BY score DESC, start_date ASC`, string(user), date(today), includeDismissed)
}

func (s *Store) ListUnnotifiedOverlaps(ctx context.Context, today time.Time) ([]*model.Overlap, error) {
	return s.queryOverlaps(ctx, `SELECT `+overlapColumns+` FROM trip_overlaps
		WHERE NOT notification_sent AND start_date >= $1
		ORDER BY detected_at`, date(today))
}

func (s *Store) MarkOverlapNotified(ctx context.Context, id model.OverlapID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trip_overlaps SET notification_sent = TRUE, notification_sent_at = $2
		WHERE id = $1`, string(id), at)
	if err != nil {
		return fmt.Errorf("postgres: mark notified %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredOverlaps(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trip_overlaps WHERE end_date < $1`, date(cutoff))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired overlaps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired overlaps: %w", err)
	}
	return n, nil
}

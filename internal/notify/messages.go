package notify

import (
	"fmt"
	"time"

	"github.com/cragmate/partner-engine/internal/model"
)

const (
	// HighScore is the overlap score that earns an immediate notification.
	HighScore = 70
	// CriticalScore upgrades a high-score notification to critical priority.
	CriticalScore = 85
)

// Names resolves display names for the people a message mentions.
type Names map[model.UserID]string

func (n Names) of(id model.UserID) string {
	if name, ok := n[id]; ok && name != "" {
		return name
	}
	return string(id)
}

// OverlapNotifications builds the regular "trip overlap" message for both
// sides of o. destination is the human readable destination name.
func OverlapNotifications(o *model.Overlap, destination string, names Names) []Notification {
	out := make([]Notification, 0, 2)
	for _, me := range []model.UserID{o.User1, o.User2} {
		other, trip := o.Other(me)
		mine := myTrip(o, me)
		out = append(out, Notification{
			Recipient: me,
			Type:      TripOverlap,
			Priority:  Normal,
			Title:     "Trip Overlap Detected!",
			Message: fmt.Sprintf("Your trip to %s overlaps with %s's trip! Overlap: %s to %s (Score: %d%%)",
				destination, names.of(other),
				o.Start.Format(time.DateOnly), o.End.Format(time.DateOnly), o.Score),
			Metadata: map[string]any{
				"overlap_id":    string(o.ID),
				"trip_id":       string(mine),
				"other_trip_id": string(trip),
				"other_user_id": string(other),
				"overlap_score": o.Score,
				"destination":   destination,
			},
		})
	}
	return out
}

// IsHighScore reports whether o deserves an immediate notification.
func IsHighScore(o *model.Overlap) bool {
	return o.Score >= HighScore
}

// HighScoreNotifications builds the immediate message for both sides of a
// high-scoring overlap. It returns nil for scores below HighScore.
func HighScoreNotifications(o *model.Overlap, destination string, names Names) []Notification {
	if !IsHighScore(o) {
		return nil
	}
	priority := High
	if o.Score >= CriticalScore {
		priority = Critical
	}
	out := make([]Notification, 0, 2)
	for _, me := range []model.UserID{o.User1, o.User2} {
		other, _ := o.Other(me)
		out = append(out, Notification{
			Recipient: me,
			Type:      TripOverlap,
			Priority:  priority,
			Title:     fmt.Sprintf("High Match Score: %d%%!", o.Score),
			Message: fmt.Sprintf("Great match with %s for %s! %d overlapping days.",
				names.of(other), destination, o.Days),
			Metadata: map[string]any{
				"overlap_id":    string(o.ID),
				"trip_id":       string(myTrip(o, me)),
				"other_user_id": string(other),
				"overlap_score": o.Score,
				"is_high_score": true,
			},
		})
	}
	return out
}

// CrossPathNotification tells recipient that friend is travelling to a
// destination near their home.
func CrossPathNotification(recipient model.UserID, friend *model.User, trip *model.Trip) Notification {
	dest := trip.Destination.Name
	if dest == "" {
		dest = trip.Destination.Slug
	}
	return Notification{
		Recipient: recipient,
		Type:      CrossPath,
		Priority:  Normal,
		Title:     fmt.Sprintf("%s is coming to your area!", friend.Name()),
		Message: fmt.Sprintf("Your friend is planning a trip to %s from %s to %s.",
			dest, trip.Dates.Start.Format(time.DateOnly), trip.Dates.End.Format(time.DateOnly)),
		Metadata: map[string]any{
			"trip_id":     string(trip.ID),
			"friend_id":   string(friend.ID),
			"destination": dest,
		},
	}
}

func myTrip(o *model.Overlap, me model.UserID) model.TripID {
	if o.SideOf(me) == model.Side2 {
		return o.Trip2
	}
	return o.Trip1
}

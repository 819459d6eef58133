package matching

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cragmate/partner-engine/internal/model"
)

// ReasonKind tags why a candidate scored well.
type ReasonKind string

const (
	LocationMatch     ReasonKind = "location_match"
	DateOverlap       ReasonKind = "date_overlap"
	SharedDisciplines ReasonKind = "shared_disciplines"
	SimilarGrades     ReasonKind = "similar_grades"
	SameRiskTolerance ReasonKind = "same_risk_tolerance"
	AvailabilityMatch ReasonKind = "availability_match"
)

// Reason is one human-presentable explanation of a match score. Only the
// fields relevant to Kind are set, so callers can localize or filter without
// parsing text.
type Reason struct {
	Kind        ReasonKind         `json:"kind"`
	Destination string             `json:"destination,omitempty"`
	Days        int                `json:"days,omitempty"`
	Slots       int                `json:"slots,omitempty"`
	Disciplines []model.Discipline `json:"disciplines,omitempty"`
}

// String renders the English text shown to users.
func (r Reason) String() string {
	switch r.Kind {
	case LocationMatch:
		return "Both in " + r.Destination
	case DateOverlap:
		return fmt.Sprintf("%d day overlap", r.Days)
	case SharedDisciplines:
		names := make([]string, len(r.Disciplines))
		for i, d := range r.Disciplines {
			names[i] = string(d)
		}
		return "Both climb " + strings.Join(names, ", ")
	case SimilarGrades:
		return "Similar grades"
	case SameRiskTolerance:
		return "Same risk tolerance"
	case AvailabilityMatch:
		return fmt.Sprintf("%d matching availability slots", r.Slots)
	default:
		return string(r.Kind)
	}
}

// MarshalText lets reasons be logged as plain text.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// reasonJSON avoids MarshalText taking over JSON encoding.
type reasonJSON Reason

// MarshalJSON keeps the structured form plus rendered text for clients that
// only display it.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		reasonJSON
		Text string `json:"text"`
	}{reasonJSON(r), r.String()})
}

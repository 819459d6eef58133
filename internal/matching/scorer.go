package matching

import (
	"math"

	"github.com/cragmate/partner-engine/internal/model"
)

// Weights holds the point values of each score component. The zero value is
// not useful; start from DefaultWeights.
type Weights struct {
	LocationCragOverlap   int `yaml:"location_crag_overlap"`
	LocationFlexible      int `yaml:"location_flexible"`
	LocationDistinctCrags int `yaml:"location_distinct_crags"`

	PointsPerOverlapDay int `yaml:"points_per_overlap_day"`
	MaxDateScore        int `yaml:"max_date_score"`

	DisciplineFull    int `yaml:"discipline_full"`
	DisciplinePartial int `yaml:"discipline_partial"`

	MaxGradeScore      int `yaml:"max_grade_score"`
	SimilarGradesAbove int `yaml:"similar_grades_above"`

	RiskSame     int `yaml:"risk_same"`
	RiskAdjacent int `yaml:"risk_adjacent"`
	RiskOpposite int `yaml:"risk_opposite"`

	MaxAvailability int `yaml:"max_availability"`

	// MinScore is the publishable threshold; only scores strictly above it
	// are returned.
	MinScore int `yaml:"min_score"`
}

// DefaultWeights returns the production weights: 30+20+20+15+10+5 = 100.
func DefaultWeights() Weights {
	return Weights{
		LocationCragOverlap:   30,
		LocationFlexible:      25,
		LocationDistinctCrags: 20,
		PointsPerOverlapDay:   4,
		MaxDateScore:          20,
		DisciplineFull:        20,
		DisciplinePartial:     5,
		MaxGradeScore:         15,
		SimilarGradesAbove:    10,
		RiskSame:              10,
		RiskAdjacent:          3,
		RiskOpposite:          -10,
		MaxAvailability:       5,
		MinScore:              20,
	}
}

// Side is one participant of a scoring call: the climber and the trip they
// bring.
type Side struct {
	User     *model.User
	Trip     *model.Trip
	Profiles []model.ClimberProfile
}

// Breakdown records each component for logging and debugging.
type Breakdown struct {
	Location     int `json:"location"`
	Dates        int `json:"dates"`
	Discipline   int `json:"discipline"`
	Grade        int `json:"grade"`
	Risk         int `json:"risk"`
	Availability int `json:"availability"`
}

// Total is the raw, unclamped sum of the components.
func (b Breakdown) Total() int {
	return b.Location + b.Dates + b.Discipline + b.Grade + b.Risk + b.Availability
}

// Score is the outcome of scoring one candidate.
type Score struct {
	Value     int
	Reasons   []Reason
	Overlap   model.DateRange
	Breakdown Breakdown
}

// Scorer computes compatibility scores. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	w Weights
}

// NewScorer creates a Scorer using w.
func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score rates how well candidate fits mine. The result is clamped to [0,100].
func (s *Scorer) Score(mine, candidate Side) Score {
	var (
		out     Score
		b       Breakdown
		reasons []Reason
	)

	b.Location = s.location(mine.Trip, candidate.Trip)
	if b.Location > 0 {
		reasons = append(reasons, Reason{Kind: LocationMatch, Destination: destinationName(mine.Trip)})
	}

	if shared, ok := mine.Trip.Dates.Intersect(candidate.Trip.Dates); ok {
		days := shared.Days()
		b.Dates = min(s.w.MaxDateScore, days*s.w.PointsPerOverlapDay)
		out.Overlap = shared
		reasons = append(reasons, Reason{Kind: DateOverlap, Days: days})
	}

	var shared []model.Discipline
	b.Discipline, shared = s.discipline(mine, candidate)
	if len(shared) > 0 {
		reasons = append(reasons, Reason{Kind: SharedDisciplines, Disciplines: shared})

		// Only the first shared discipline is compared.
		b.Grade = s.grade(shared[0], mine.Profiles, candidate.Profiles)
		if b.Grade > s.w.SimilarGradesAbove {
			reasons = append(reasons, Reason{Kind: SimilarGrades})
		}
	}

	b.Risk = s.risk(mine.User, candidate.User)
	if b.Risk == s.w.RiskSame {
		reasons = append(reasons, Reason{Kind: SameRiskTolerance})
	}

	slots := matchingSlots(mine.Trip.Availability, candidate.Trip.Availability)
	b.Availability = min(s.w.MaxAvailability, slots)
	if slots > 0 {
		reasons = append(reasons, Reason{Kind: AvailabilityMatch, Slots: slots})
	}

	out.Value = clamp(b.Total(), 0, 100)
	out.Reasons = reasons
	out.Breakdown = b
	return out
}

// Publishable reports whether a score clears the minimum threshold.
func (s *Scorer) Publishable(score int) bool {
	return score > s.w.MinScore
}

func (s *Scorer) location(a, b *model.Trip) int {
	if a.Destination.Slug != b.Destination.Slug {
		return 0
	}
	if len(a.Crags) == 0 || len(b.Crags) == 0 {
		return s.w.LocationFlexible
	}
	if intersects(a.Crags, b.Crags) {
		return s.w.LocationCragOverlap
	}
	return s.w.LocationDistinctCrags
}

// discipline returns the component value and the disciplines both trips
// prefer and both climbers have a profile for, in canonical order.
func (s *Scorer) discipline(mine, candidate Side) (int, []model.Discipline) {
	tripShared := disciplineSet(mine.Trip.Disciplines).intersect(disciplineSet(candidate.Trip.Disciplines))
	if len(tripShared) == 0 {
		return 0, nil
	}

	shared := tripShared.
		intersect(profileDisciplines(mine.Profiles)).
		intersect(profileDisciplines(candidate.Profiles)).
		ordered()
	if len(shared) > 0 {
		return s.w.DisciplineFull, shared
	}
	return s.w.DisciplinePartial, nil
}

// grade scores the overlap of both climbers' comfortable grade bands for d.
func (s *Scorer) grade(d model.Discipline, mine, theirs []model.ClimberProfile) int {
	a, ok := profileFor(mine, d)
	if !ok {
		return 0
	}
	b, ok := profileFor(theirs, d)
	if !ok {
		return 0
	}

	lo := max(a.MinScore, b.MinScore)
	hi := min(a.MaxScore, b.MaxScore)
	if lo > hi {
		return 0
	}

	avg := float64(a.Width()+b.Width()) / 2
	if avg <= 0 {
		return 0
	}
	return int(math.Round(float64(s.w.MaxGradeScore) * float64(hi-lo) / avg))
}

func (s *Scorer) risk(a, b *model.User) int {
	var ra, rb model.RiskTolerance
	if a != nil {
		ra = a.RiskTolerance
	}
	if b != nil {
		rb = b.RiskTolerance
	}
	diff := ra.Ordinal() - rb.Ordinal()
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		return s.w.RiskSame
	case 1:
		return s.w.RiskAdjacent
	default:
		return s.w.RiskOpposite
	}
}

type slot struct {
	date  int64
	block model.TimeBlock
}

func matchingSlots(a, b []model.Availability) int {
	mine := make(map[slot]bool, len(a))
	for _, av := range a {
		if av.Block == model.Rest {
			continue
		}
		mine[slot{model.DateOf(av.Date).Unix(), av.Block}] = true
	}
	n := 0
	seen := make(map[slot]bool, len(b))
	for _, av := range b {
		if av.Block == model.Rest {
			continue
		}
		k := slot{model.DateOf(av.Date).Unix(), av.Block}
		if mine[k] && !seen[k] {
			seen[k] = true
			n++
		}
	}
	return n
}

type disciplines map[model.Discipline]bool

func disciplineSet(ds []model.Discipline) disciplines {
	out := make(disciplines, len(ds))
	for _, d := range ds {
		out[d] = true
	}
	return out
}

func profileDisciplines(ps []model.ClimberProfile) disciplines {
	out := make(disciplines, len(ps))
	for _, p := range ps {
		out[p.Discipline] = true
	}
	return out
}

func (s disciplines) intersect(o disciplines) disciplines {
	out := make(disciplines)
	for d := range s {
		if o[d] {
			out[d] = true
		}
	}
	return out
}

func (s disciplines) ordered() []model.Discipline {
	var out []model.Discipline
	for _, d := range model.Disciplines {
		if s[d] {
			out = append(out, d)
		}
	}
	return out
}

func profileFor(ps []model.ClimberProfile, d model.Discipline) (model.ClimberProfile, bool) {
	for _, p := range ps {
		if p.Discipline == d {
			return p, true
		}
	}
	return model.ClimberProfile{}, false
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

func destinationName(t *model.Trip) string {
	if t.Destination.Name != "" {
		return t.Destination.Name
	}
	return t.Destination.Slug
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

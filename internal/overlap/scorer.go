// Package overlap detects, scores, stores and expires trip overlaps: two
// climbers heading to the same destination on intersecting dates.
package overlap

import (
	"github.com/cragmate/partner-engine/internal/model"
)

// Weights are the point values of the overlap score.
type Weights struct {
	PointsPerDay int `yaml:"points_per_day"`
	MaxDays      int `yaml:"max_days"`
	Discipline   int `yaml:"discipline"`
	Grade        int `yaml:"grade"`
	Friendship   int `yaml:"friendship"`
	Crag         int `yaml:"crag"`
}

// DefaultWeights returns the production overlap weights.
func DefaultWeights() Weights {
	return Weights{
		PointsPerDay: 6,
		MaxDays:      30,
		Discipline:   25,
		Grade:        20,
		Friendship:   15,
		Crag:         10,
	}
}

// Scorer computes the 0..100 overlap score. Safe for concurrent use.
type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score rates the overlap of t1 and t2. areFriends adds the friendship bonus.
func (s *Scorer) Score(t1, t2 *model.Trip, areFriends bool) int {
	score := 0

	if days := model.OverlapDays(t1.Dates, t2.Dates); days > 0 {
		score += min(days*s.w.PointsPerDay, s.w.MaxDays)
	}

	score += s.discipline(t1.Disciplines, t2.Disciplines)

	if gradesOverlap(t1, t2) {
		score += s.w.Grade
	}

	if areFriends {
		score += s.w.Friendship
	}

	if len(t1.Crags) > 0 && len(t2.Crags) > 0 && sharesAny(t1.Crags, t2.Crags) {
		score += s.w.Crag
	}

	return max(0, min(score, 100))
}

// discipline is the Jaccard ratio of both discipline sets, truncated.
func (s *Scorer) discipline(a, b []model.Discipline) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	union := make(map[model.Discipline]bool, len(a)+len(b))
	inA := make(map[model.Discipline]bool, len(a))
	for _, d := range a {
		inA[d] = true
		union[d] = true
	}
	inter := 0
	counted := make(map[model.Discipline]bool, len(b))
	for _, d := range b {
		union[d] = true
		if inA[d] && !counted[d] {
			counted[d] = true
			inter++
		}
	}
	return int(float64(inter) / float64(len(union)) * float64(s.w.Discipline))
}

// gradesOverlap compares grade labels lexically. Only trips that both carry a
// full range on the same system qualify.
func gradesOverlap(t1, t2 *model.Trip) bool {
	if !t1.HasGradeRange() || !t2.HasGradeRange() || t1.GradeSystem != t2.GradeSystem {
		return false
	}
	return !(t1.MaxGrade < t2.MinGrade || t2.MaxGrade < t1.MinGrade)
}

func sharesAny(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

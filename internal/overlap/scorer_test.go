package overlap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cragmate/partner-engine/internal/model"
)

func dec(from, to int) model.DateRange {
	return model.DateRange{Start: model.NewDate(2026, 12, from), End: model.NewDate(2026, 12, to)}
}

func TestScorer_Days(t *testing.T) {
	s := NewScorer(DefaultWeights())
	cases := []struct {
		name string
		a, b model.DateRange
		want int
	}{
		{"one day", dec(1, 3), dec(3, 9), 6},
		{"four days", dec(1, 4), dec(1, 4), 24},
		{"capped", dec(1, 20), dec(1, 20), 30},
		{"disjoint", dec(1, 2), dec(5, 9), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Score(&model.Trip{Dates: tc.a}, &model.Trip{Dates: tc.b}, false)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScorer_DisciplineJaccard(t *testing.T) {
	s := NewScorer(DefaultWeights())
	cases := []struct {
		name string
		a, b []model.Discipline
		want int
	}{
		{"identical", []model.Discipline{model.Sport}, []model.Discipline{model.Sport}, 25},
		{"one of two", []model.Discipline{model.Sport, model.Trad}, []model.Discipline{model.Sport}, 12},
		{"one of three", []model.Discipline{model.Sport, model.Trad}, []model.Discipline{model.Sport, model.Bouldering}, 8},
		{"disjoint", []model.Discipline{model.Trad}, []model.Discipline{model.Sport}, 0},
		{"one side empty", nil, []model.Discipline{model.Sport}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.discipline(tc.a, tc.b))
		})
	}
}

func TestScorer_Grade(t *testing.T) {
	s := NewScorer(DefaultWeights())
	trip := func(sys model.GradeSystem, lo, hi string) *model.Trip {
		return &model.Trip{Dates: dec(1, 1), GradeSystem: sys, MinGrade: lo, MaxGrade: hi}
	}
	base := 6 // one shared day

	assert.Equal(t, base+20, s.Score(trip(model.YDS, "5.10a", "5.11a"), trip(model.YDS, "5.10c", "5.12a"), false))
	assert.Equal(t, base, s.Score(trip(model.YDS, "5.10a", "5.10b"), trip(model.YDS, "5.10c", "5.11a"), false))
	assert.Equal(t, base, s.Score(trip(model.YDS, "5.10a", "5.11a"), trip(model.French, "6a", "7a"), false))
	assert.Equal(t, base, s.Score(trip(model.YDS, "5.10a", ""), trip(model.YDS, "5.10a", "5.11a"), false))
}

func TestScorer_FriendAndCragBonus(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := &model.Trip{Dates: dec(1, 1), Crags: []string{"muir-valley", "pmrp"}}
	b := &model.Trip{Dates: dec(1, 1), Crags: []string{"pmrp"}}
	c := &model.Trip{Dates: dec(1, 1), Crags: []string{"miller-fork"}}

	assert.Equal(t, 6+10, s.Score(a, b, false))
	assert.Equal(t, 6+10+15, s.Score(a, b, true))
	assert.Equal(t, 6, s.Score(a, c, false))
	assert.Equal(t, 6, s.Score(a, &model.Trip{Dates: dec(1, 1)}, false))
}

func TestScorer_CappedAt100(t *testing.T) {
	s := NewScorer(DefaultWeights())
	t1 := &model.Trip{
		Dates:       dec(1, 10),
		Disciplines: []model.Discipline{model.Sport},
		GradeSystem: model.YDS,
		MinGrade:    "5.10a",
		MaxGrade:    "5.11a",
		Crags:       []string{"x"},
	}
	t2 := &model.Trip{
		Dates:       dec(1, 10),
		Disciplines: []model.Discipline{model.Sport},
		GradeSystem: model.YDS,
		MinGrade:    "5.10a",
		MaxGrade:    "5.11a",
		Crags:       []string{"x"},
	}
	assert.Equal(t, 100, s.Score(t1, t2, true))
	assert.Equal(t, s.Score(t1, t2, true), s.Score(t2, t1, true))
}

package status

import (
	"sort"
	"time"

	"factory-dashboard-backend/internal/parse"
)

// Declaration is a target rate declared at an instant, usually by a
// "start shift" log comment.
type Declaration struct {
	At   time.Time
	Rate float64
}

// Targets resolves the carried-forward target rate for any instant. A
// declaration applies to its whole clock hour and every later hour until
// another declaration supersedes it. Within one hour the last declaration wins.
type Targets struct {
	loc   *time.Location
	hours []time.Time
	rates []float64
}

// NewTargets builds a schedule from declarations in any order.
func NewTargets(decls []Declaration, loc *time.Location) Targets {
	if loc == nil {
		loc = time.Local
	}
	sorted := make([]Declaration, len(decls))
	copy(sorted, decls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	t := Targets{loc: loc}
	for _, d := range sorted {
		h := hourOf(d.At, loc)
		if n := len(t.hours); n > 0 && t.hours[n-1].Equal(h) {
			t.rates[n-1] = d.Rate
			continue
		}
		t.hours = append(t.hours, h)
		t.rates = append(t.rates, d.Rate)
	}
	return t
}

// At returns the target in force during the hour containing at, or 0 when
// nothing was declared at or before that hour.
func (t Targets) At(at time.Time) float64 {
	if len(t.hours) == 0 {
		return 0
	}
	h := hourOf(at, t.loc)
	// first declared hour strictly after h
	i := sort.Search(len(t.hours), func(i int) bool { return t.hours[i].After(h) })
	if i == 0 {
		return 0
	}
	return t.rates[i-1]
}

// Declared reports whether any target was declared.
func (t Targets) Declared() bool {
	return len(t.hours) > 0
}

func hourOf(at time.Time, loc *time.Location) time.Time {
	return parse.HourStart(at, loc)
}

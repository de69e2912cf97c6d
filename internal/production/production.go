// Package production rolls machine logs up into hourly and shift totals,
// health scores and the chart series shown on machine cards.
package production

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/parse"
	"factory-dashboard-backend/internal/status"
	"factory-dashboard-backend/internal/timeline"
)

// SeriesBuckets is the number of points in a production series.
const SeriesBuckets = 13

// Hour is the production of one clock hour.
type Hour struct {
	Start    time.Time `json:"start"`
	Hour     int       `json:"hour"`
	Produced int64     `json:"produced"`
	Target   float64   `json:"target"`
	Percent  float64   `json:"percent"`
}

// Shift is the sum over every hour of a day.
type Shift struct {
	Produced int64   `json:"produced"`
	Target   float64 `json:"target"`
	Percent  float64 `json:"percent"`
}

// Hourly returns one row per clock hour from the hour of the first sample to
// the hour of the last one. Produced sums interval_count of interval logs;
// target is the carried-forward declared rate for the hour.
func Hourly(samples []timeline.Sample, targets status.Targets, loc *time.Location) []Hour {
	if len(samples) == 0 {
		return []Hour{}
	}
	if loc == nil {
		loc = time.Local
	}
	first, last := samples[0].At, samples[0].At
	for _, s := range samples[1:] {
		if s.At.Before(first) {
			first = s.At
		}
		if s.At.After(last) {
			last = s.At
		}
	}

	// keyed by instant so both passes of a repeated DST hour stay apart
	produced := make(map[int64]int64)
	for _, s := range samples {
		if status.IsIntervalLog(s.Log.Event) {
			produced[parse.HourStart(s.At, loc).Unix()] += s.Log.IntervalCount
		}
	}

	var rows []Hour
	end := parse.HourStart(last, loc)
	for h := parse.HourStart(first, loc); !h.After(end); h = h.Add(time.Hour) {
		target := targets.At(h)
		n := produced[h.Unix()]
		rows = append(rows, Hour{
			Start:    h,
			Hour:     h.Hour(),
			Produced: n,
			Target:   target,
			Percent:  Percent(float64(n), target),
		})
	}
	return rows
}

// Totals sums hourly rows into shift totals.
func Totals(hours []Hour) Shift {
	var s Shift
	target := decimal.Zero
	for _, h := range hours {
		s.Produced += h.Produced
		target = target.Add(decimal.NewFromFloat(h.Target))
	}
	s.Target = target.InexactFloat64()
	s.Percent = Percent(float64(s.Produced), s.Target)
	return s
}

// Percent is produced over target as a one-decimal percentage, or 0 when
// target is not positive.
func Percent(produced, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return decimal.NewFromFloat(produced).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(target)).
		Round(1).
		InexactFloat64()
}

// HealthScore is the share of logs whose static event status is good, as a
// one-decimal percentage. It is count based and independent of rates.
func HealthScore(logs []model.LogEntry) float64 {
	if len(logs) == 0 {
		return 0
	}
	var good int64
	for _, l := range logs {
		if status.ForEvent(l.Event) == status.Good {
			good++
		}
	}
	return decimal.NewFromInt(good).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(len(logs)))).
		Round(1).
		InexactFloat64()
}

// Series splits interval logs, in time order, into SeriesBuckets groups of
// equal count and sums interval_count in each. Trailing groups may be zero.
func Series(samples []timeline.Sample) []int64 {
	out := make([]int64, SeriesBuckets)
	var counts []int64
	for _, s := range samples {
		if status.IsIntervalLog(s.Log.Event) {
			counts = append(counts, s.Log.IntervalCount)
		}
	}
	if len(counts) == 0 {
		return out
	}
	per := (len(counts) + SeriesBuckets - 1) / SeriesBuckets
	for i, c := range counts {
		out[i/per] += c
	}
	return out
}

// Uptime is the operating share of the window as a one-decimal percentage.
func Uptime(segments []timeline.Segment, w timeline.Window) float64 {
	length := w.Length()
	if length == 0 {
		return 0
	}
	return Percent(float64(timeline.OperatingSeconds(segments)), float64(length))
}

// AvailableDates lists the distinct local dates that have logs, most recent
// first. Logs with unparseable timestamps are ignored.
func AvailableDates(logs []model.LogEntry, loc *time.Location) []string {
	seen := make(map[string]struct{})
	dates := []string{}
	for _, l := range logs {
		at, err := parse.Timestamp(l.CreatedAt, loc)
		if err != nil {
			continue
		}
		d := at.Format(parse.DateLayout)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// Package timeline turns a machine's log stream into the gap-free sequence of
// classified segments drawn on the dashboard timeline.
package timeline

import (
	"time"

	"factory-dashboard-backend/internal/status"
)

// Segment is a contiguous span with one status. Offsets are whole seconds
// from the window origin.
type Segment struct {
	TimeStart int64         `json:"time_start"`
	TimeEnd   int64         `json:"time_end"`
	Status    status.Status `json:"status"`
	HasMarker bool          `json:"has_marker"`
}

// Duration returns the segment width in seconds.
func (s Segment) Duration() int64 {
	return s.TimeEnd - s.TimeStart
}

// Marker is one production sample position on the timeline.
type Marker struct {
	Offset int64         `json:"offset"`
	LogID  int64         `json:"log_id"`
	Status status.Status `json:"status"`
}

// Window is the span [Start, End] in seconds from Origin.
type Window struct {
	Origin time.Time
	Start  int64
	End    int64
}

// DayWindow spans local midnight to the next midnight of the day containing
// day. The length follows the calendar, so DST days are 23 or 25 hours.
func DayWindow(day time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	d := day.In(loc)
	origin := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	next := origin.AddDate(0, 0, 1)
	return Window{Origin: origin, Start: 0, End: next.Unix() - origin.Unix()}
}

// Until shortens the window so it ends at t when t falls inside it.
func (w Window) Until(t time.Time) Window {
	if off := w.Offset(t); off > w.Start && off < w.End {
		w.End = off
	}
	return w
}

// Offset converts an instant into whole seconds from the origin.
func (w Window) Offset(t time.Time) int64 {
	return t.Unix() - w.Origin.Unix()
}

// Length returns End - Start, never negative.
func (w Window) Length() int64 {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// At converts an offset back into an instant.
func (w Window) At(offset int64) time.Time {
	return w.Origin.Add(time.Duration(offset) * time.Second)
}

// Result is the output of Build.
type Result struct {
	Segments []Segment `json:"segments"`
	// Markers holds one candidate per interval log inside the window. It is
	// not deduplicated; see DedupeByMinute.
	Markers []Marker `json:"markers"`
}

// Build converts samples of one machine into segments covering the window.
//
// Each sample opens a segment that runs until the next sample, or the window
// end for the last one. Samples before the window are clipped to its start and
// samples after it are dropped. A leading stretch with no data is a None
// segment. Segments that would be zero seconds wide after clipping are
// removed, so every returned segment has TimeEnd > TimeStart.
func Build(samples []Sample, w Window, targets status.Targets) Result {
	res := Result{Segments: []Segment{}, Markers: []Marker{}}
	if w.Length() == 0 {
		return res
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sortSamples(sorted)

	if len(sorted) == 0 {
		res.Segments = append(res.Segments, Segment{TimeStart: w.Start, TimeEnd: w.End, Status: status.None})
		return res
	}

	if first := w.Offset(sorted[0].At); first > w.Start {
		res.Segments = append(res.Segments, Segment{TimeStart: w.Start, TimeEnd: min(first, w.End), Status: status.None})
	}

	for i, s := range sorted {
		off := w.Offset(s.At)
		if off >= w.End {
			break
		}
		st := Classify(s, targets)
		interval := status.IsIntervalLog(s.Log.Event)
		if interval && off >= w.Start {
			res.Markers = append(res.Markers, Marker{Offset: off, LogID: s.Log.ID, Status: st})
		}

		start := max(off, w.Start)
		end := w.End
		if i+1 < len(sorted) {
			end = min(w.Offset(sorted[i+1].At), w.End)
		}
		if end <= start {
			continue
		}
		res.Segments = append(res.Segments, Segment{
			TimeStart: start,
			TimeEnd:   end,
			Status:    st,
			HasMarker: interval,
		})
	}
	return res
}

// DedupeByMinute keeps the first marker in each minute bucket of the window.
// It is a display helper; Build output itself is never deduplicated.
func DedupeByMinute(markers []Marker) []Marker {
	out := make([]Marker, 0, len(markers))
	seen := make(map[int64]struct{}, len(markers))
	for _, m := range markers {
		bucket := floorDiv(m.Offset, 60)
		if _, ok := seen[bucket]; ok {
			continue
		}
		seen[bucket] = struct{}{}
		out = append(out, m)
	}
	return out
}

// OperatingSeconds sums the width of good and warning segments.
func OperatingSeconds(segments []Segment) int64 {
	var total int64
	for _, s := range segments {
		if s.Status.Operating() {
			total += s.Duration()
		}
	}
	return total
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

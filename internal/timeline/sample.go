package timeline

import (
	"sort"
	"time"

	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/parse"
	"factory-dashboard-backend/internal/status"
)

// Sample is a log whose created_at has been parsed.
type Sample struct {
	Log model.LogEntry
	At  time.Time
}

// SkippedLog records a log left out of a computation because its timestamp
// could not be parsed.
type SkippedLog struct {
	LogID int64
	Raw   string
	Err   error
}

// Prepare parses created_at for every log and returns the samples sorted
// ascending by time. Stored order is not trusted. Logs with unparseable
// timestamps are returned separately so the caller can report them.
func Prepare(logs []model.LogEntry, loc *time.Location) ([]Sample, []SkippedLog) {
	samples := make([]Sample, 0, len(logs))
	var skipped []SkippedLog
	for _, l := range logs {
		at, err := parse.Timestamp(l.CreatedAt, loc)
		if err != nil {
			skipped = append(skipped, SkippedLog{LogID: l.ID, Raw: l.CreatedAt, Err: err})
			continue
		}
		samples = append(samples, Sample{Log: l, At: at})
	}
	sortSamples(samples)
	return samples, skipped
}

// Targets derives the carried-forward target schedule from every sample
// whose comments declare a standard parts rate.
func Targets(samples []Sample, loc *time.Location) status.Targets {
	var decls []status.Declaration
	for _, s := range samples {
		if rate, ok := parse.TargetRate(s.Log.Comments); ok {
			decls = append(decls, status.Declaration{At: s.At, Rate: rate})
		}
	}
	return status.NewTargets(decls, loc)
}

// Classify returns the status a single sample contributes to the timeline.
func Classify(s Sample, targets status.Targets) status.Status {
	if status.IsIntervalLog(s.Log.Event) {
		return status.ForRate(s.Log.Event, s.Log.MachineRate, targets.At(s.At))
	}
	return status.ForEvent(s.Log.Event)
}

func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].At.Before(samples[j].At) })
}

package production

import "factory-dashboard-backend/internal/status"

// Health score break points used for card colouring.
const (
	healthGood    = 75.0
	healthWarning = 40.0
)

// HealthStatus buckets a health score for card colouring.
func HealthStatus(score float64) status.Status {
	switch {
	case score > healthGood:
		return status.Good
	case score > healthWarning:
		return status.Warning
	case score > 0:
		return status.Bad
	default:
		return status.None
	}
}

// MachineHealth is the per-machine input to Summarize.
type MachineHealth struct {
	Name   string
	Health float64
	Online bool
}

// Summary is the factory-wide status overview.
type Summary struct {
	Stations  int `json:"stations"`
	Operating int `json:"operating"`
	Stopped   int `json:"stopped"`
	Online    int `json:"online"`
	Good      int `json:"good"`
	Warning   int `json:"warning"`
	Bad       int `json:"bad"`
	None      int `json:"none"`
}

// Summarize counts machines per health bucket. Operating is good plus warning
// and stopped is bad plus none. Online comes from liveness, not health.
func Summarize(machines []MachineHealth) Summary {
	s := Summary{Stations: len(machines)}
	for _, m := range machines {
		if m.Online {
			s.Online++
		}
		switch HealthStatus(m.Health) {
		case status.Good:
			s.Good++
		case status.Warning:
			s.Warning++
		case status.Bad:
			s.Bad++
		default:
			s.None++
		}
	}
	s.Operating = s.Good + s.Warning
	s.Stopped = s.Bad + s.None
	return s
}

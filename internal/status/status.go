// Package status classifies machine events and production samples into the
// health levels drawn on the dashboard timeline.
package status

import "strings"

// Status is the classification of a time segment or log.
type Status string

const (
	Good    Status = "good"
	Warning Status = "warning"
	Bad     Status = "bad"
	On      Status = "on"
	None    Status = "none"
)

// Recognized event kinds, compared after trimming and lower-casing.
const (
	EventStartButton     = "start button"
	EventAutoIntervalLog = "auto interval log"
	EventOff             = "off"
	EventStartShift      = "start shift"
)

// Ratio break points of measured over target rate.
const (
	GoodRatio    = 0.70
	WarningRatio = 0.40
)

// NormalizeEvent trims and lower-cases an event kind.
func NormalizeEvent(event string) string {
	return strings.ToLower(strings.TrimSpace(event))
}

// IsIntervalLog reports whether event is a periodic production sample.
func IsIntervalLog(event string) bool {
	return NormalizeEvent(event) == EventAutoIntervalLog
}

// ForEvent is the static event-to-status mapping. Unrecognized kinds mean the
// machine is running without a production measurement.
func ForEvent(event string) Status {
	switch NormalizeEvent(event) {
	case EventStartButton:
		return Bad
	case EventAutoIntervalLog:
		return Good
	case EventOff:
		return None
	default:
		return On
	}
}

// ForRate classifies a measured rate against its hour's target. When target
// is not positive it falls back to the static mapping for event.
func ForRate(event string, machineRate, target float64) Status {
	if target <= 0 {
		return ForEvent(event)
	}
	ratio := machineRate / target
	switch {
	case ratio >= GoodRatio:
		return Good
	case ratio >= WarningRatio:
		return Warning
	default:
		return Bad
	}
}

// Operating reports whether s counts toward productive time.
func (s Status) Operating() bool {
	return s == Good || s == Warning
}

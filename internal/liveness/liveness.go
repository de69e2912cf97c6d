// Package liveness derives whether machines are online from how long they
// have been silent, and reports the ones that went quiet.
package liveness

import (
	"fmt"
	"time"

	"factory-dashboard-backend/internal/parse"
)

const (
	// Timeout is how long a machine may stay silent before it is offline.
	Timeout = 8 * time.Second
	// Grace is the window after an update in which a machine is not judged.
	Grace = 2 * time.Second
	// Interval is the default pause between evaluator passes.
	Interval = time.Second
)

// Verdict is the outcome of evaluating one machine.
type Verdict int

const (
	// Recent means the machine reported within the grace window.
	Recent Verdict = iota
	Online
	Offline
)

func (v Verdict) String() string {
	switch v {
	case Recent:
		return "recent"
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Evaluate classifies a machine from its raw last_updated value. An
// unparseable value is an error, never a verdict.
func Evaluate(lastUpdated string, now time.Time, loc *time.Location, timeout, grace time.Duration) (Verdict, time.Duration, error) {
	at, err := parse.Timestamp(lastUpdated, loc)
	if err != nil {
		return Recent, 0, err
	}
	elapsed := now.Sub(at)
	switch {
	case elapsed < grace:
		return Recent, elapsed, nil
	case elapsed >= timeout:
		return Offline, elapsed, nil
	default:
		return Online, elapsed, nil
	}
}

// IsOnline is the single-machine predicate used by overview screens. A
// machine with an unparseable last_updated is not online.
func IsOnline(lastUpdated string, now time.Time, loc *time.Location, timeout time.Duration) bool {
	at, err := parse.Timestamp(lastUpdated, loc)
	if err != nil {
		return false
	}
	return now.Sub(at) < timeout
}

package parse

import (
	"regexp"
	"strconv"
	"strings"
)

var targetRateRe = regexp.MustCompile(`(?i)standard\s+parts\s+rate:\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*parts`)

// TargetRate extracts the declared parts-per-hour figure from a log comment of
// the form "Standard Parts Rate: 1,200 parts".
func TargetRate(comments string) (float64, bool) {
	m := targetRateRe.FindStringSubmatch(comments)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

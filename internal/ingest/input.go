package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"factory-dashboard-backend/internal/parse"
	"factory-dashboard-backend/internal/store"
)

// LogInput is a log as written by machine agents, over HTTP or MQTT. The
// machine may be named by any of the identity keys.
type LogInput struct {
	parse.MachineIdentity
	Event         string  `json:"event"`
	TotalCount    int64   `json:"total_count"`
	IntervalCount int64   `json:"interval_count"`
	MachineRate   float64 `json:"machine_rate"`
	Comments      string  `json:"comments"`
	MO            string  `json:"mo"`
	PartNumber    string  `json:"part_number"`
	OperatorID    string  `json:"operator_id"`
	ShiftNumber   string  `json:"shift_number"`
	// CreatedAt is optional and may be a string or a number.
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
}

// Timestamp decodes CreatedAt. A missing value returns the zero time.
func (in LogInput) Timestamp(loc *time.Location) (time.Time, error) {
	raw := bytes.TrimSpace(in.CreatedAt)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, err
		}
		if strings.TrimSpace(text) == "" {
			return time.Time{}, nil
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, fmt.Errorf("created_at must be a string or number")
		}
		// fractional unix values are truncated to whole units
		text, _, _ = strings.Cut(n.String(), ".")
	}
	return parse.Timestamp(text, loc)
}

// toNewLog resolves identity and timestamp into a store record.
func (in LogInput) toNewLog(loc *time.Location) (store.NewLog, error) {
	at, err := in.Timestamp(loc)
	if err != nil {
		return store.NewLog{}, &store.ValidationError{Field: "created_at", Reason: err.Error()}
	}
	return store.NewLog{
		MachineName:   in.Resolve(),
		Event:         in.Event,
		TotalCount:    in.TotalCount,
		IntervalCount: in.IntervalCount,
		MachineRate:   in.MachineRate,
		Comments:      in.Comments,
		MO:            in.MO,
		PartNumber:    in.PartNumber,
		OperatorID:    in.OperatorID,
		ShiftNumber:   in.ShiftNumber,
		CreatedAt:     at,
	}, nil
}

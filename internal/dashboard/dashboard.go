// Package dashboard assembles the per-machine and factory views served to the
// browser from stored logs.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"factory-dashboard-backend/internal/liveness"
	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/parse"
	"factory-dashboard-backend/internal/production"
	"factory-dashboard-backend/internal/status"
	"factory-dashboard-backend/internal/store"
	"factory-dashboard-backend/internal/timeline"
)

// Reader is the store access the views need.
type Reader interface {
	ListMachines(ctx context.Context) ([]model.Machine, error)
	GetMachine(ctx context.Context, name string) (model.Machine, error)
	ListLogs(ctx context.Context, f store.LogFilter) ([]model.LogEntry, error)
	LatestLogBefore(ctx context.Context, machineName string, before time.Time) (model.LogEntry, bool, error)
}

// Options configure a Service. MaxRows bounds the raw log listing only; day
// views always read the whole day.
type Options struct {
	Location *time.Location
	Timeout  time.Duration
	MaxRows  int
}

// Service builds dashboard views.
type Service struct {
	store Reader
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a dashboard service.
func NewService(r Reader, opts Options, log *zap.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Timeout <= 0 {
		opts.Timeout = liveness.Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: r, opts: opts, log: log.Named("dashboard"), now: time.Now}
}

// Location returns the timezone days are cut in.
func (s *Service) Location() *time.Location { return s.opts.Location }

// MachineView is a machine with its derived online flag.
type MachineView struct {
	model.Machine
	Online bool `json:"online"`
}

// TimelineView is one machine's day as segments.
type TimelineView struct {
	Machine     string             `json:"machine"`
	Date        string             `json:"date"`
	WindowStart int64              `json:"window_start"`
	WindowEnd   int64              `json:"window_end"`
	Segments    []timeline.Segment `json:"segments"`
	Markers     []timeline.Marker  `json:"markers"`
	Uptime      float64            `json:"uptime"`
	Skipped     int                `json:"skipped_logs"`
	Targets     map[int]float64    `json:"targets,omitempty"`
	Window      timeline.Window    `json:"-"`
	Samples     []timeline.Sample  `json:"-"`
}

// ShiftView is one machine's production for a day.
type ShiftView struct {
	Machine string            `json:"machine"`
	Date    string            `json:"date"`
	Hours   []production.Hour `json:"hours"`
	Shift   production.Shift  `json:"shift"`
	Health  float64           `json:"health"`
	Status  status.Status     `json:"status"`
	Series  []int64           `json:"series"`
	Logs    int               `json:"logs"`
}

// Card is one machine on the factory overview.
type Card struct {
	Machine     string        `json:"machine"`
	LastUpdated string        `json:"last_updated"`
	Online      bool          `json:"online"`
	Health      float64       `json:"health"`
	Status      status.Status `json:"status"`
	Produced    int64         `json:"produced"`
}

// Overview is the factory status for a day.
type Overview struct {
	Date     string             `json:"date"`
	Summary  production.Summary `json:"summary"`
	Machines []Card             `json:"machines"`
}

// Day resolves a YYYY-MM-DD string to local midnight. Blank means today.
func (s *Service) Day(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return parse.StartOfDay(s.now(), s.opts.Location), nil
	}
	d, err := parse.Day(raw, s.opts.Location)
	if err != nil {
		return time.Time{}, &store.ValidationError{Field: "date", Reason: err.Error()}
	}
	return d, nil
}

// Machines lists every machine with its online flag.
func (s *Service) Machines(ctx context.Context) ([]MachineView, error) {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]MachineView, 0, len(machines))
	for _, m := range machines {
		out = append(out, MachineView{Machine: m, Online: liveness.IsOnline(m.LastUpdated, now, s.opts.Location, s.opts.Timeout)})
	}
	return out, nil
}

// Logs returns stored logs for an optional machine and optional day.
func (s *Service) Logs(ctx context.Context, machine, date string) ([]model.LogEntry, error) {
	f := store.LogFilter{MachineName: machine, Limit: s.opts.MaxRows}
	if strings.TrimSpace(date) != "" {
		d, err := s.Day(date)
		if err != nil {
			return nil, err
		}
		f.From, f.To = d, d.AddDate(0, 0, 1)
	}
	logs, err := s.store.ListLogs(ctx, f)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []model.LogEntry{}
	}
	return logs, nil
}

// Timeline segments one machine's day. The log just before midnight is
// included so the day opens with the state the machine was already in. For
// the current day the window ends now.
func (s *Service) Timeline(ctx context.Context, machine string, day time.Time) (TimelineView, error) {
	m, err := s.store.GetMachine(ctx, machine)
	if err != nil {
		return TimelineView{}, err
	}
	logs, err := s.dayLogs(ctx, m.Name, day)
	if err != nil {
		return TimelineView{}, err
	}
	var carry []model.LogEntry
	prev, found, err := s.store.LatestLogBefore(ctx, m.Name, day)
	if err != nil {
		return TimelineView{}, err
	}
	if found {
		carry = append(carry, prev)
	}

	w := timeline.DayWindow(day, s.opts.Location).Until(s.now())
	samples := s.prepare(m.Name, append(carry, logs...))
	// targets are declared per day; an earlier day's rate does not carry in
	daySamples := make([]timeline.Sample, 0, len(samples))
	for _, smp := range samples {
		if w.Offset(smp.At) >= w.Start {
			daySamples = append(daySamples, smp)
		}
	}
	targets := timeline.Targets(daySamples, s.opts.Location)
	res := timeline.Build(samples, w, targets)

	return TimelineView{
		Machine:     m.Name,
		Date:        day.Format(parse.DateLayout),
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Segments:    res.Segments,
		Markers:     timeline.DedupeByMinute(res.Markers),
		Uptime:      production.Uptime(res.Segments, w),
		Skipped:     len(logs) + len(carry) - len(samples),
		Targets:     hourlyTargets(daySamples, targets, s.opts.Location),
		Window:      w,
		Samples:     daySamples,
	}, nil
}

// Shift aggregates one machine's day.
func (s *Service) Shift(ctx context.Context, machine string, day time.Time) (ShiftView, error) {
	m, err := s.store.GetMachine(ctx, machine)
	if err != nil {
		return ShiftView{}, err
	}
	logs, err := s.dayLogs(ctx, m.Name, day)
	if err != nil {
		return ShiftView{}, err
	}
	samples := s.prepare(m.Name, logs)
	targets := timeline.Targets(samples, s.opts.Location)
	hours := production.Hourly(samples, targets, s.opts.Location)
	health := production.HealthScore(logs)

	return ShiftView{
		Machine: m.Name,
		Date:    day.Format(parse.DateLayout),
		Hours:   hours,
		Shift:   production.Totals(hours),
		Health:  health,
		Status:  production.HealthStatus(health),
		Series:  production.Series(samples),
		Logs:    len(logs),
	}, nil
}

// Dates lists the days a machine has logs for, most recent first.
func (s *Service) Dates(ctx context.Context, machine string) ([]string, error) {
	m, err := s.store.GetMachine(ctx, machine)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogs(ctx, store.LogFilter{MachineName: m.Name})
	if err != nil {
		return nil, err
	}
	return production.AvailableDates(logs, s.opts.Location), nil
}

// Overview summarizes every machine for a day.
func (s *Service) Overview(ctx context.Context, day time.Time) (Overview, error) {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		return Overview{}, err
	}
	now := s.now()
	cards := make([]Card, 0, len(machines))
	health := make([]production.MachineHealth, 0, len(machines))
	for _, m := range machines {
		logs, err := s.dayLogs(ctx, m.Name, day)
		if err != nil {
			return Overview{}, err
		}
		samples := s.prepare(m.Name, logs)
		score := production.HealthScore(logs)
		online := liveness.IsOnline(m.LastUpdated, now, s.opts.Location, s.opts.Timeout)
		cards = append(cards, Card{
			Machine:     m.Name,
			LastUpdated: m.LastUpdated,
			Online:      online,
			Health:      score,
			Status:      production.HealthStatus(score),
			Produced:    production.Totals(production.Hourly(samples, status.Targets{}, s.opts.Location)).Produced,
		})
		health = append(health, production.MachineHealth{Name: m.Name, Health: score, Online: online})
	}
	return Overview{
		Date:     day.Format(parse.DateLayout),
		Summary:  production.Summarize(health),
		Machines: cards,
	}, nil
}

func (s *Service) dayLogs(ctx context.Context, machine string, day time.Time) ([]model.LogEntry, error) {
	logs, err := s.store.ListLogs(ctx, store.LogFilter{
		MachineName: machine,
		From:        day,
		To:          day.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load logs for %s: %w", machine, err)
	}
	return logs, nil
}

func (s *Service) prepare(machine string, logs []model.LogEntry) []timeline.Sample {
	samples, skipped := timeline.Prepare(logs, s.opts.Location)
	for _, sk := range skipped {
		s.log.Warn("excluding log with unparseable created_at",
			zap.String("machine", machine),
			zap.Int64("log_id", sk.LogID),
			zap.String("created_at", sk.Raw),
			zap.Error(sk.Err))
	}
	return samples
}

func hourlyTargets(samples []timeline.Sample, targets status.Targets, loc *time.Location) map[int]float64 {
	if !targets.Declared() {
		return nil
	}
	out := make(map[int]float64)
	for _, h := range production.Hourly(samples, targets, loc) {
		if h.Target > 0 {
			out[h.Hour] = h.Target
		}
	}
	return out
}

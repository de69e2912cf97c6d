package liveness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"factory-dashboard-backend/internal/metrics"
	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/notification"
)

// MachineLister is the read access the evaluator needs.
type MachineLister interface {
	ListMachines(ctx context.Context) ([]model.Machine, error)
}

// Options tune an Evaluator. Zero fields take the package defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Grace    time.Duration
	Location *time.Location
}

// Report summarizes one pass.
type Report struct {
	Checked  int      `json:"checked"`
	Online   int      `json:"online"`
	TimedOut int      `json:"timed_out"`
	Skipped  int      `json:"skipped"`
	Invalid  int      `json:"invalid"`
	Offline  []string `json:"offline"`
}

// Evaluator periodically publishes an offline event for every machine that
// has been silent for at least the timeout. It never writes to the store.
type Evaluator struct {
	machines  MachineLister
	publisher notification.Publisher
	opts      Options
	log       *zap.Logger
	now       func() time.Time
	running   atomic.Bool
}

// NewEvaluator creates an evaluator. publisher may be nil.
func NewEvaluator(machines MachineLister, publisher notification.Publisher, opts Options, log *zap.Logger) *Evaluator {
	if opts.Interval <= 0 {
		opts.Interval = Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = Timeout
	}
	if opts.Grace <= 0 {
		opts.Grace = Grace
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		machines:  machines,
		publisher: publisher,
		opts:      opts,
		log:       log.Named("liveness"),
		now:       time.Now,
	}
}

// Run evaluates every interval until ctx is cancelled. A tick that arrives
// while the previous pass is still running is skipped.
func (e *Evaluator) Run(ctx context.Context) {
	e.log.Info("liveness evaluator started",
		zap.Duration("interval", e.opts.Interval),
		zap.Duration("timeout", e.opts.Timeout),
		zap.Duration("grace", e.opts.Grace))

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("liveness evaluator shutting down")
			return
		case <-ticker.C:
			if !e.running.CompareAndSwap(false, true) {
				metrics.LivenessPassesTotal.WithLabelValues("skipped").Inc()
				e.log.Warn("previous liveness pass still running, skipping tick")
				continue
			}
			go func() {
				defer e.running.Store(false)
				e.tick(ctx)
			}()
		}
	}
}

func (e *Evaluator) tick(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, e.opts.Interval)
	defer cancel()
	if _, err := e.CheckOnce(passCtx); err != nil {
		e.log.Error("liveness pass failed", zap.Error(err))
	}
}

// CheckOnce runs a single pass. Machines whose last_updated cannot be parsed
// are counted as invalid and left out; they never count as offline. A failed
// publish is logged and does not stop the pass.
func (e *Evaluator) CheckOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() {
		metrics.LivenessPassDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	rep := Report{Offline: []string{}}
	machines, err := e.machines.ListMachines(ctx)
	if err != nil {
		metrics.LivenessPassesTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("failed to list machines: %w", err)
	}

	now := e.now()
	rep.Checked = len(machines)
	for _, m := range machines {
		verdict, elapsed, err := Evaluate(m.LastUpdated, now, e.opts.Location, e.opts.Timeout, e.opts.Grace)
		if err != nil {
			rep.Invalid++
			metrics.InvalidTimestampsTotal.Inc()
			e.log.Warn("excluding machine with unparseable last_updated",
				zap.String("machine", m.Name),
				zap.String("last_updated", m.LastUpdated),
				zap.Error(err))
			continue
		}

		switch verdict {
		case Recent:
			rep.Skipped++
		case Online:
			rep.Online++
		case Offline:
			rep.TimedOut++
			rep.Offline = append(rep.Offline, m.Name)
			e.log.Debug("machine offline", zap.String("machine", m.Name), zap.Duration("silent_for", elapsed))
			e.publish(ctx, m, now)
		}
	}

	metrics.MachinesOffline.Set(float64(rep.TimedOut))
	metrics.LivenessPassesTotal.WithLabelValues("ok").Inc()
	return rep, nil
}

func (e *Evaluator) publish(ctx context.Context, m model.Machine, now time.Time) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, notification.NewEvent(notification.ReasonOffline, m, false, now)); err != nil {
		e.log.Warn("failed to publish offline event", zap.String("machine", m.Name), zap.Error(err))
	}
}

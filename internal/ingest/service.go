// Package ingest accepts machine logs and registrations from every source,
// persists them and announces the resulting machine state.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"factory-dashboard-backend/internal/metrics"
	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/store"
)

// Sources label where a log came from.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Store is the persistence the service writes through.
type Store interface {
	GetMachine(ctx context.Context, name string) (model.Machine, error)
	RegisterMachine(ctx context.Context, name string, at time.Time) (model.Machine, error)
	InsertLog(ctx context.Context, in store.NewLog) (model.LogEntry, error)
}

// Service records logs and registrations.
type Service struct {
	store     Store
	publisher notification.Publisher
	loc       *time.Location
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates an ingest service. publisher may be nil.
func NewService(st Store, publisher notification.Publisher, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, publisher: publisher, loc: loc, log: log.Named("ingest"), now: time.Now}
}

// Record persists one log and publishes the machine's new state. The insert
// is the unit of success: a publish failure is logged and the persisted row is
// still returned.
func (s *Service) Record(ctx context.Context, in LogInput, source string) (model.LogEntry, error) {
	nl, err := in.toNewLog(s.loc)
	if err != nil {
		s.reject(source, err)
		return model.LogEntry{}, err
	}
	entry, err := s.store.InsertLog(ctx, nl)
	if err != nil {
		s.reject(source, err)
		return model.LogEntry{}, err
	}
	metrics.LogsIngestedTotal.WithLabelValues(source).Inc()

	m, err := s.store.GetMachine(ctx, entry.MachineName)
	if err != nil {
		s.log.Warn("failed to read back machine after insert", zap.String("machine", entry.MachineName), zap.Error(err))
		m = model.Machine{Name: entry.MachineName, LastUpdated: entry.CreatedAt}
	}
	ev := notification.NewEvent(notification.ReasonLog, m, true, s.now())
	ev.Log = &entry
	s.publish(ctx, ev)
	return entry, nil
}

// Register upserts a machine as seen now and publishes it.
func (s *Service) Register(ctx context.Context, name string) (model.Machine, error) {
	m, err := s.store.RegisterMachine(ctx, name, s.now())
	if err != nil {
		return model.Machine{}, err
	}
	s.log.Info("machine registered", zap.String("machine", m.Name))
	s.publish(ctx, notification.NewEvent(notification.ReasonRegistered, m, true, s.now()))
	return m, nil
}

func (s *Service) publish(ctx context.Context, ev notification.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish machine event",
			zap.String("machine", ev.Machine.Name),
			zap.String("reason", string(ev.Reason)),
			zap.Error(err))
	}
}

func (s *Service) reject(source string, err error) {
	reason := "error"
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		reason = verr.Field
	case errors.Is(err, store.ErrMachineNotFound):
		reason = "machine_not_found"
	}
	metrics.LogsRejectedTotal.WithLabelValues(source, reason).Inc()
}

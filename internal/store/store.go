package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"factory-dashboard-backend/internal/model"
	"factory-dashboard-backend/internal/parse"
)

// Store defines the interface for all database operations.
type Store interface {
	Ping(ctx context.Context) error

	ListMachines(ctx context.Context) ([]model.Machine, error)
	GetMachine(ctx context.Context, name string) (model.Machine, error)
	RegisterMachine(ctx context.Context, name string, at time.Time) (model.Machine, error)

	InsertLog(ctx context.Context, in NewLog) (model.LogEntry, error)
	ListLogs(ctx context.Context, f LogFilter) ([]model.LogEntry, error)
	LatestLogBefore(ctx context.Context, machineName string, before time.Time) (model.LogEntry, bool, error)

	PutSubscription(ctx context.Context, sub model.PushSubscription, machineNames []string) error
	GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForMachine(ctx context.Context, machineName string) ([]model.PushSubscription, error)
}

// NewLog is a validated-on-insert log record. A zero CreatedAt means now.
type NewLog struct {
	MachineName   string
	Event         string
	TotalCount    int64
	IntervalCount int64
	MachineRate   float64
	Comments      string
	MO            string
	PartNumber    string
	OperatorID    string
	ShiftNumber   string
	CreatedAt     time.Time
}

// LogFilter narrows ListLogs. Zero values mean unbounded.
type LogFilter struct {
	MachineName string
	From        time.Time // inclusive
	To          time.Time // exclusive
	Limit       int
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

// NewGormStore creates a new GORM-backed store. Timestamps are written in
// parse.CanonicalLayout in loc.
func NewGormStore(db *gorm.DB, loc *time.Location) Store {
	if loc == nil {
		loc = time.Local
	}
	return &gormStore{db: db, loc: loc, now: time.Now}
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *gormStore) ListMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Order("name").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return machines, nil
}

func (s *gormStore) GetMachine(ctx context.Context, name string) (model.Machine, error) {
	var m model.Machine
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, ErrMachineNotFound
	}
	if err != nil {
		return m, fmt.Errorf("failed to get machine %q: %w", name, err)
	}
	return m, nil
}

// RegisterMachine upserts a machine by name and stamps last_updated with at.
func (s *gormStore) RegisterMachine(ctx context.Context, name string, at time.Time) (model.Machine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Machine{}, invalid("name", "must not be empty")
	}
	if at.IsZero() {
		at = s.now()
	}
	var m model.Machine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := model.Machine{Name: name, LastUpdated: parse.FormatTimestamp(at, s.loc)}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_updated"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		// the id gorm reports after an upsert is not reliable on every driver
		return tx.Where("name = ?", name).First(&m).Error
	})
	if err != nil {
		return model.Machine{}, fmt.Errorf("failed to register machine %q: %w", name, err)
	}
	return m, nil
}

// InsertLog validates and appends a log, then moves the machine's
// last_updated forward to the log's created_at. A late log never moves it
// back. Both writes share one transaction. The returned row is read back
// after the insert.
func (s *gormStore) InsertLog(ctx context.Context, in NewLog) (model.LogEntry, error) {
	entry, at, err := s.prepareLog(in)
	if err != nil {
		return model.LogEntry{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Machine
		if err := tx.Where("name = ?", entry.MachineName).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMachineNotFound
			}
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if advances(m.LastUpdated, at, s.loc) {
			if err := tx.Model(&model.Machine{}).
				Where("id = ?", m.ID).
				Update("last_updated", entry.CreatedAt).Error; err != nil {
				return err
			}
		}
		var stored model.LogEntry
		if err := tx.First(&stored, entry.ID).Error; err != nil {
			return err
		}
		entry = stored
		return nil
	})
	if errors.Is(err, ErrMachineNotFound) {
		return model.LogEntry{}, ErrMachineNotFound
	}
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("failed to insert log for machine %q: %w", entry.MachineName, err)
	}
	return entry, nil
}

// advances reports whether at is newer than the stored last_updated. An
// unparseable stored value is always replaced.
func advances(lastUpdated string, at time.Time, loc *time.Location) bool {
	current, err := parse.Timestamp(lastUpdated, loc)
	if err != nil {
		return true
	}
	return at.After(current)
}

func (s *gormStore) prepareLog(in NewLog) (model.LogEntry, time.Time, error) {
	name := strings.TrimSpace(in.MachineName)
	event := strings.TrimSpace(in.Event)
	switch {
	case name == "":
		return model.LogEntry{}, time.Time{}, invalid("machine_name", "must not be empty")
	case event == "":
		return model.LogEntry{}, time.Time{}, invalid("event", "must not be empty")
	case in.TotalCount < 0:
		return model.LogEntry{}, time.Time{}, invalid("total_count", "must not be negative")
	case in.IntervalCount < 0:
		return model.LogEntry{}, time.Time{}, invalid("interval_count", "must not be negative")
	case in.MachineRate < 0:
		return model.LogEntry{}, time.Time{}, invalid("machine_rate", "must not be negative")
	}
	at := in.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	// stored at second precision
	at = at.Truncate(time.Second)
	return model.LogEntry{
		MachineName:   name,
		Event:         event,
		TotalCount:    in.TotalCount,
		IntervalCount: in.IntervalCount,
		MachineRate:   in.MachineRate,
		Comments:      in.Comments,
		MO:            in.MO,
		PartNumber:    in.PartNumber,
		OperatorID:    in.OperatorID,
		ShiftNumber:   in.ShiftNumber,
		CreatedAt:     parse.FormatTimestamp(at, s.loc),
	}, at, nil
}

// ListLogs returns logs in insertion order. With a limit, the most recent
// rows are kept.
func (s *gormStore) ListLogs(ctx context.Context, f LogFilter) ([]model.LogEntry, error) {
	q := s.db.WithContext(ctx).Model(&model.LogEntry{})
	if name := strings.TrimSpace(f.MachineName); name != "" {
		q = q.Where("machine_name = ?", name)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", parse.FormatTimestamp(f.From, s.loc))
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", parse.FormatTimestamp(f.To, s.loc))
	}

	var logs []model.LogEntry
	if f.Limit > 0 {
		if err := q.Order("id DESC").Limit(f.Limit).Find(&logs).Error; err != nil {
			return nil, fmt.Errorf("failed to list logs: %w", err)
		}
		for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
			logs[i], logs[j] = logs[j], logs[i]
		}
		return logs, nil
	}
	if err := q.Order("id ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}

// LatestLogBefore returns the log with the newest created_at strictly before
// the given time. Ties on created_at go to the later insert.
func (s *gormStore) LatestLogBefore(ctx context.Context, machineName string, before time.Time) (model.LogEntry, bool, error) {
	var logs []model.LogEntry
	err := s.db.WithContext(ctx).
		Where("machine_name = ? AND created_at < ?", strings.TrimSpace(machineName), parse.FormatTimestamp(before, s.loc)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&logs).Error
	if err != nil {
		return model.LogEntry{}, false, fmt.Errorf("failed to find latest log before %s: %w", parse.FormatTimestamp(before, s.loc), err)
	}
	if len(logs) == 0 {
		return model.LogEntry{}, false, nil
	}
	return logs[0], true, nil
}

package model

// LogEntry is one event reported by a machine. Rows are append-only.
type LogEntry struct {
	ID            int64   `gorm:"primaryKey" json:"id"`
	MachineName   string  `gorm:"index:idx_logs_machine_created,priority:1;size:128;not null" json:"machine_name"`
	Event         string  `gorm:"size:128;not null" json:"event"`
	TotalCount    int64   `gorm:"not null;default:0" json:"total_count"`
	IntervalCount int64   `gorm:"not null;default:0" json:"interval_count"`
	MachineRate   float64 `gorm:"not null;default:0" json:"machine_rate"`
	Comments      string  `json:"comments"`
	MO            string  `gorm:"column:mo;size:128" json:"mo"`
	PartNumber    string  `gorm:"size:128" json:"part_number"`
	OperatorID    string  `gorm:"size:128" json:"operator_id"`
	ShiftNumber   string  `gorm:"size:32" json:"shift_number"`
	// Same multi-format tolerance as Machine.LastUpdated.
	CreatedAt string `gorm:"index:idx_logs_machine_created,priority:2;size:64;not null" json:"created_at"`
}

// TableName pins the table name used by every producer.
func (LogEntry) TableName() string { return "logs" }

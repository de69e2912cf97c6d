package model

// Machine is a reporting station on the factory floor.
//
// LastUpdated is kept as the raw text written by producers. Upstream agents
// have written ISO-8601 strings, unix seconds and unix milliseconds into this
// column, so it is parsed on read rather than typed as a timestamp.
type Machine struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	LastUpdated string `gorm:"size:64" json:"last_updated"`
}

// TableName pins the table name used by every producer.
func (Machine) TableName() string { return "machines" }

package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one committed event in the append-only archive. Digest chains
// each record to its predecessor.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	OpID       string    `gorm:"index"`
	Type       string    `gorm:"index"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"not null"`
	PrevDigest string
	Digest     string `gorm:"uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "staking_events" }

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

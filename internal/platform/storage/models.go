package storage

import (
	"time"

	"gorm.io/datatypes"
)

// VerdictRecord is the persisted form of a chart verdict.
type VerdictRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Digest    string `gorm:"type:varchar(64);index;not null"`
	Source    string `gorm:"type:varchar(512)"`
	Format    string `gorm:"type:varchar(16)"`
	Width     int
	Height    int
	Accepted  bool   `gorm:"not null"`
	Score     int    `gorm:"not null"`
	Reason    string `gorm:"type:text"`
	Outcome   string `gorm:"type:varchar(32);not null"`
	Metrics   datatypes.JSON
	Checks    datatypes.JSON
	CreatedAt time.Time  `gorm:"index"`
	ExpiresAt *time.Time `gorm:"index"`
}

// TableName pins the table created by the verdict migrations.
func (VerdictRecord) TableName() string {
	return "chart_verdicts"
}

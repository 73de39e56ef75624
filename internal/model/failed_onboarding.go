package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// FailedOnboarding is a failure drained from the failure stream and kept for
// offline inspection by support.
type FailedOnboarding struct {
	ID           uint           `gorm:"primaryKey"`
	CreatedAt    time.Time      // set by GORM
	RequestID    string         `gorm:"index;not null"`
	Step         string         `gorm:"index"`
	Code         string         `gorm:"index"`
	Kind         string
	ErrorMessage string         `gorm:"type:text"`
	Subject      string         `gorm:"not null"` // subject the failure arrived on
	Payload      datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt   time.Time      `gorm:"index"`
	Resolved     bool           `gorm:"index;default:false"`
	ResolvedAt   *time.Time
	Notes        string `gorm:"type:text"`
}

func (FailedOnboarding) TableName(namer schema.Namer) string {
	return namer.TableName("failed_onboardings")
}

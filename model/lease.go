package model

import "time"

// SyncLease marks an account whose sync is running in some process. A lease
// past ExpiresAt was left behind by a process that stopped renewing it.
type SyncLease struct {
	AccountID uint64    `gorm:"primaryKey;autoIncrement:false"`
	Owner     string    `gorm:"type:varchar(36);not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

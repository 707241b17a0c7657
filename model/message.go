package model

import (
	"time"
)

const (
	ContentTypeText = "text/plain"
	ContentTypeHTML = "text/html"
)

type Message struct {
	Model
	AccountID   uint64              `gorm:"not null;uniqueIndex:idx_account_provider_id" json:"account_id"`
	ProviderID  string              `gorm:"type:varchar(255);not null;uniqueIndex:idx_account_provider_id" json:"provider_id"`
	Subject     string              `gorm:"type:text;not null" json:"subject"`
	Sender      string              `gorm:"type:varchar(320);not null" json:"sender"`
	SentAt      time.Time           `gorm:"not null" json:"sent_at"`
	ReceivedAt  time.Time           `gorm:"not null;index" json:"received_at"`
	Content     string              `gorm:"type:longtext;not null" json:"content"`
	ContentType string              `gorm:"type:varchar(32);not null" json:"content_type"`
	Attachments []AttachmentSummary `gorm:"type:json;serializer:json;not null" json:"attachments"`
	IsRead      bool                `gorm:"not null;default:false" json:"is_read"`
}

// AttachmentSummary is the per-message copy of an Attachment used for listings.
type AttachmentSummary struct {
	ID       uint64 `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type Attachment struct {
	Model
	MessageID        uint64 `gorm:"not null;index" json:"message_id"`
	Filename         string `gorm:"type:varchar(255);not null" json:"filename"`
	ContentType      string `gorm:"type:varchar(100);not null" json:"content_type"`
	Size             int64  `gorm:"not null" json:"size"`
	ObjectStorageKey string `gorm:"type:varchar(512);not null" json:"-"`
}

package model

import (
	"fmt"
	"time"
)

const (
	ProviderGmail  = "gmail"
	ProviderYandex = "yandex"
	ProviderMailRu = "mailru"
)

type IMAPSettings struct {
	Host string
	Port int
}

func (s IMAPSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var imapSettings = map[string]IMAPSettings{
	ProviderGmail:  {Host: "imap.gmail.com", Port: 993},
	ProviderYandex: {Host: "imap.yandex.ru", Port: 993},
	ProviderMailRu: {Host: "imap.mail.ru", Port: 993},
}

// Account is a remote mailbox that is synchronized as one unit.
type Account struct {
	Model
	Email       string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Password    string     `gorm:"type:varchar(255);not null" json:"-"`
	Provider    string     `gorm:"type:varchar(20);not null" json:"provider"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	LastChecked *time.Time `json:"last_checked"`
}

// IMAPSettings returns the connection parameters for the account's provider.
// ok is false for providers outside the known set.
func (a *Account) IMAPSettings() (settings IMAPSettings, ok bool) {
	settings, ok = imapSettings[a.Provider]
	return settings, ok
}

func ValidProvider(provider string) bool {
	_, ok := imapSettings[provider]
	return ok
}

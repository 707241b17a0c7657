// Package mailopetest provides a gorm store on in-memory SQLite for tests.
package mailopetest

import (
	"context"
	"testing"

	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewStore(t testing.TB) *mailope.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// :memory: databases are per connection
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := model.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return mailope.NewGormStore(db)
}

// CreateAccount stores an account. Inactive accounts are updated after the
// insert since gorm skips zero values that have a column default.
func CreateAccount(t testing.TB, store mailope.Store, account *model.Account) *model.Account {
	t.Helper()
	active := account.IsActive
	account.IsActive = true
	ctx := context.Background()
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !active {
		if err := store.SetAccountActive(ctx, account.ID, false); err != nil {
			t.Fatalf("deactivate account: %v", err)
		}
		account.IsActive = false
	}
	return account
}

package mailope

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/masa23/mailsync/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultLeaseTTL = 2 * time.Minute

// LeaseLocks grants at most one running sync per account across every
// process sharing the database. A holder renews its lease while it runs, so
// a crashed process blocks the account for at most one TTL.
type LeaseLocks struct {
	db  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

func NewLeaseLocks(store *GormStore) *LeaseLocks {
	return &LeaseLocks{db: store.db, TTL: DefaultLeaseTTL}
}

func (l *LeaseLocks) ttl() time.Duration {
	if l.TTL > 0 {
		return l.TTL
	}
	return DefaultLeaseTTL
}

func (l *LeaseLocks) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// TryLock takes the lease for accountID without waiting. ok is false when
// another live holder has it. The returned unlock function may be called
// more than once.
func (l *LeaseLocks) TryLock(ctx context.Context, accountID uint64) (unlock func(), ok bool, err error) {
	db := l.db.WithContext(ctx)
	now := l.now()

	// 期限切れのリースは持ち主が死んでいる
	err = db.Where("account_id = ? AND expires_at < ?", accountID, now).
		Delete(&model.SyncLease{}).Error
	if err != nil {
		return nil, false, storageError("expire sync lease", err)
	}

	lease := &model.SyncLease{
		AccountID: accountID,
		Owner:     uuid.New().String(),
		ExpiresAt: now.Add(l.ttl()),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(lease)
	if res.Error != nil {
		return nil, false, storageError("acquire sync lease", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(lease, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			err := l.db.Where("account_id = ? AND owner = ?", lease.AccountID, lease.Owner).
				Delete(&model.SyncLease{}).Error
			if err != nil {
				log.Printf("Error releasing sync lease for account %d: %v", lease.AccountID, err)
			}
		})
	}, true, nil
}

func (l *LeaseLocks) renew(lease *model.SyncLease, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		res := l.db.Model(&model.SyncLease{}).
			Where("account_id = ? AND owner = ?", lease.AccountID, lease.Owner).
			Update("expires_at", l.now().Add(l.ttl()))
		switch {
		case res.Error != nil:
			log.Printf("Error renewing sync lease for account %d: %v", lease.AccountID, res.Error)
		case res.RowsAffected == 0:
			log.Printf("Sync lease for account %d was taken over", lease.AccountID)
			return
		}
	}
}

package mailope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masa23/mailsync/model"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// StorageError is returned for any failure of the persistence backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type MessageFilter struct {
	AccountID uint64
	Limit     int
	Offset    int
}

// Store is the persistence interface used by the sync pipeline and the API.
// Find* methods return nil and no error when nothing matches.
type Store interface {
	FindAccount(ctx context.Context, id uint64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	CreateAccount(ctx context.Context, account *model.Account) error
	SetAccountActive(ctx context.Context, id uint64, active bool) error
	MarkAccountChecked(ctx context.Context, id uint64, at time.Time) error

	FindMessage(ctx context.Context, id uint64) (*model.Message, error)
	FindMessageByProviderID(ctx context.Context, accountID uint64, providerID string) (*model.Message, error)
	FindLatestMessage(ctx context.Context, accountID uint64) (*model.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, int64, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	UpdateMessageAttachmentSummary(ctx context.Context, id uint64, summary []model.AttachmentSummary) error
	DeleteMessage(ctx context.Context, id uint64) error

	FindAttachment(ctx context.Context, id uint64) (*model.Attachment, error)
	ListAttachments(ctx context.Context, messageID uint64) ([]model.Attachment, error)
	CreateAttachment(ctx context.Context, att *model.Attachment) error
	DeleteAttachment(ctx context.Context, id uint64) error
	DeleteAttachments(ctx context.Context, messageID uint64) error

	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func first[T any](ctx context.Context, db *gorm.DB, op string, query func(*gorm.DB) *gorm.DB) (*T, error) {
	var v T
	if err := query(db.WithContext(ctx)).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError(op, err)
	}
	return &v, nil
}

func (s *GormStore) FindAccount(ctx context.Context, id uint64) (*model.Account, error) {
	return first[model.Account](ctx, s.db, "find account", func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	})
}

func (s *GormStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, storageError("list accounts", err)
	}
	return accounts, nil
}

func (s *GormStore) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return storageError("create account", err)
	}
	return nil
}

func (s *GormStore) SetAccountActive(ctx context.Context, id uint64, active bool) error {
	err := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Update("is_active", active).Error
	if err != nil {
		return storageError("set account active", err)
	}
	return nil
}

func (s *GormStore) MarkAccountChecked(ctx context.Context, id uint64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Update("last_checked", at).Error
	if err != nil {
		return storageError("mark account checked", err)
	}
	return nil
}

func (s *GormStore) FindMessage(ctx context.Context, id uint64) (*model.Message, error) {
	return first[model.Message](ctx, s.db, "find message", func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	})
}

func (s *GormStore) FindMessageByProviderID(ctx context.Context, accountID uint64, providerID string) (*model.Message, error) {
	return first[model.Message](ctx, s.db, "find message by provider id", func(db *gorm.DB) *gorm.DB {
		return db.Where("account_id = ? AND provider_id = ?", accountID, providerID)
	})
}

func (s *GormStore) FindLatestMessage(ctx context.Context, accountID uint64) (*model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("received_at DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, storageError("find latest message", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ListMessages returns one page of messages, most recently received first,
// together with the total number of matching messages.
func (s *GormStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Message{})
	if filter.AccountID != 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageError("count messages", err)
	}

	var msgs []model.Message
	query = query.Order("received_at DESC, id DESC").Offset(filter.Offset)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, 0, storageError("list messages", err)
	}
	return msgs, total, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.Attachments == nil {
		msg.Attachments = []model.AttachmentSummary{}
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return storageError("create message", err)
	}
	return nil
}

func (s *GormStore) UpdateMessageAttachmentSummary(ctx context.Context, id uint64, summary []model.AttachmentSummary) error {
	if summary == nil {
		summary = []model.AttachmentSummary{}
	}
	err := s.db.WithContext(ctx).Model(&model.Message{Model: model.Model{ID: id}}).
		Select("Attachments").
		Updates(&model.Message{Attachments: summary}).Error
	if err != nil {
		return storageError("update attachment summary", err)
	}
	return nil
}

func (s *GormStore) DeleteMessage(ctx context.Context, id uint64) error {
	if err := s.db.WithContext(ctx).Delete(&model.Message{}, id).Error; err != nil {
		return storageError("delete message", err)
	}
	return nil
}

func (s *GormStore) FindAttachment(ctx context.Context, id uint64) (*model.Attachment, error) {
	return first[model.Attachment](ctx, s.db, "find attachment", func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	})
}

func (s *GormStore) ListAttachments(ctx context.Context, messageID uint64) ([]model.Attachment, error) {
	var atts []model.Attachment
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("id").Find(&atts).Error; err != nil {
		return nil, storageError("list attachments", err)
	}
	return atts, nil
}

func (s *GormStore) CreateAttachment(ctx context.Context, att *model.Attachment) error {
	if err := s.db.WithContext(ctx).Create(att).Error; err != nil {
		return storageError("create attachment", err)
	}
	return nil
}

func (s *GormStore) DeleteAttachment(ctx context.Context, id uint64) error {
	if err := s.db.WithContext(ctx).Delete(&model.Attachment{}, id).Error; err != nil {
		return storageError("delete attachment", err)
	}
	return nil
}

func (s *GormStore) DeleteAttachments(ctx context.Context, messageID uint64) error {
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&model.Attachment{}).Error; err != nil {
		return storageError("delete attachments", err)
	}
	return nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormStore{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return storageError("transaction", err)
	}
	return nil
}

package mailope

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/masa23/mailsync/mailparser"
	"github.com/masa23/mailsync/model"
	"github.com/masa23/mailsync/objectstorage"
)

type OutcomeKind int

const (
	Created OutcomeKind = iota
	Skipped
)

func (k OutcomeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

const ReasonDuplicate = "duplicate"

type Outcome struct {
	Kind OutcomeKind
	// Message is the persisted record for Created and the existing record for Skipped.
	Message *model.Message
	Reason  string
}

// IngestError reports a failure to store a single message. It carries
// enough of the candidate to describe it to an observer.
type IngestError struct {
	ProviderID string
	Subject    string
	Sender     string
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("failed to ingest message %s (subject=%q sender=%q): %v",
		e.ProviderID, e.Subject, e.Sender, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

type Ingester struct {
	Store Store
	Blobs objectstorage.Blobs
	Now   func() time.Time
}

func NewIngester(store Store, blobs objectstorage.Blobs) *Ingester {
	return &Ingester{Store: store, Blobs: blobs, Now: time.Now}
}

// Ingest stores msg for account unless a message with the same provider ID
// already exists. The message row, its attachment rows and the attachment
// summary are committed in one transaction; blobs are written beforehand
// and removed again if that transaction fails.
func (in *Ingester) Ingest(ctx context.Context, account *model.Account, msg *mailparser.Message) (Outcome, error) {
	// 書き込みの途中でキャンセルさせない
	ctx = context.WithoutCancel(ctx)

	fail := func(err error) (Outcome, error) {
		return Outcome{}, &IngestError{
			ProviderID: msg.ProviderID,
			Subject:    msg.Subject,
			Sender:     msg.Sender,
			Err:        err,
		}
	}

	if msg.ProviderID == "" {
		return fail(fmt.Errorf("message has no provider id"))
	}

	existing, err := in.Store.FindMessageByProviderID(ctx, account.ID, msg.ProviderID)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		return Outcome{Kind: Skipped, Message: existing, Reason: ReasonDuplicate}, nil
	}

	record := in.newRecord(account, msg)

	keys := make([]string, 0, len(msg.Attachments))
	for _, part := range msg.Attachments {
		key, err := in.Blobs.Put(ctx, part.Data, part.Filename)
		if err != nil {
			in.discardBlobs(ctx, keys)
			return fail(fmt.Errorf("error storing attachment %q: %w", part.Filename, err))
		}
		keys = append(keys, key)
	}

	err = in.Store.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateMessage(ctx, record); err != nil {
			return err
		}

		summary := make([]model.AttachmentSummary, 0, len(msg.Attachments))
		for i, part := range msg.Attachments {
			contentType := part.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			att := &model.Attachment{
				MessageID:   record.ID,
				Filename:    part.Filename,
				ContentType: contentType,
				// ヘッダーの値ではなく実際のサイズ
				Size:             int64(len(part.Data)),
				ObjectStorageKey: keys[i],
			}
			if err := tx.CreateAttachment(ctx, att); err != nil {
				return err
			}
			summary = append(summary, model.AttachmentSummary{
				ID:       att.ID,
				Filename: att.Filename,
				Size:     att.Size,
			})
		}

		if err := tx.UpdateMessageAttachmentSummary(ctx, record.ID, summary); err != nil {
			return err
		}
		record.Attachments = summary
		return nil
	})
	if err != nil {
		in.discardBlobs(ctx, keys)
		return fail(err)
	}

	return Outcome{Kind: Created, Message: record}, nil
}

func (in *Ingester) newRecord(account *model.Account, msg *mailparser.Message) *model.Message {
	received := msg.ReceivedAt
	sent := msg.SentAt
	if received.IsZero() {
		received = sent
	}
	if received.IsZero() {
		received = in.now()
	}
	if sent.IsZero() {
		sent = received
	}

	content, contentType := msg.Body()
	return &model.Message{
		AccountID:   account.ID,
		ProviderID:  msg.ProviderID,
		Subject:     msg.Subject,
		Sender:      msg.Sender,
		SentAt:      sent.UTC(),
		ReceivedAt:  received.UTC(),
		Content:     content,
		ContentType: contentType,
		Attachments: []model.AttachmentSummary{},
	}
}

func (in *Ingester) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func (in *Ingester) discardBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := in.Blobs.Delete(ctx, key); err != nil {
			log.Printf("Error deleting unreferenced object %s: %v", key, err)
		}
	}
}

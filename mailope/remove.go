package mailope

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/masa23/mailsync/model"
	"github.com/masa23/mailsync/objectstorage"
)

// Remover deletes messages and attachments together with their blobs.
type Remover struct {
	Store Store
	Blobs objectstorage.Blobs
}

// DeleteMessage removes the message, all of its attachments and their blobs.
// Rows are deleted in one transaction before any blob; blobs that fail to
// delete are logged with their key and reported in the returned error.
func (r *Remover) DeleteMessage(ctx context.Context, id uint64) error {
	var attachments []model.Attachment
	err := r.Store.Transaction(ctx, func(tx Store) error {
		msg, err := tx.FindMessage(ctx, id)
		if err != nil {
			return err
		}
		if msg == nil {
			return ErrNotFound
		}
		attachments, err = tx.ListAttachments(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteAttachments(ctx, id); err != nil {
			return err
		}
		return tx.DeleteMessage(ctx, id)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(attachments))
	for _, att := range attachments {
		keys = append(keys, att.ObjectStorageKey)
	}
	return r.deleteBlobs(ctx, keys)
}

// DeleteAttachment removes one attachment, drops it from the parent's
// summary and deletes its blob.
func (r *Remover) DeleteAttachment(ctx context.Context, id uint64) error {
	var key string
	err := r.Store.Transaction(ctx, func(tx Store) error {
		att, err := tx.FindAttachment(ctx, id)
		if err != nil {
			return err
		}
		if att == nil {
			return ErrNotFound
		}
		key = att.ObjectStorageKey

		if err := tx.DeleteAttachment(ctx, id); err != nil {
			return err
		}

		msg, err := tx.FindMessage(ctx, att.MessageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		summary := make([]model.AttachmentSummary, 0, len(msg.Attachments))
		for _, s := range msg.Attachments {
			if s.ID != id {
				summary = append(summary, s)
			}
		}
		return tx.UpdateMessageAttachmentSummary(ctx, msg.ID, summary)
	})
	if err != nil {
		return err
	}
	return r.deleteBlobs(ctx, []string{key})
}

func (r *Remover) deleteBlobs(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := r.Blobs.Delete(ctx, key); err != nil {
			log.Printf("Error deleting object from storage key=%s: %v", key, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete %d of %d objects: %w", len(errs), len(keys), errors.Join(errs...))
	}
	return nil
}

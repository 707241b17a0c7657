package mailsync

import (
	"context"
	"time"

	"github.com/masa23/mailsync/mailbox"
	"github.com/masa23/mailsync/model"
)

// IMAPDialer opens sessions on the account provider's IMAP server.
type IMAPDialer struct {
	Options mailbox.Options
}

func (d IMAPDialer) Dial(ctx context.Context, account *model.Account) (Mailbox, error) {
	session, err := mailbox.Open(ctx, account, d.Options)
	if err != nil {
		return nil, err
	}
	return imapMailbox{session}, nil
}

type imapMailbox struct {
	*mailbox.Session
}

func (m imapMailbox) Fetch(ctx context.Context, cutoff time.Time, hasCutoff bool) (Listing, error) {
	listing, err := m.Session.Fetch(ctx, cutoff, hasCutoff)
	if err != nil {
		return nil, err
	}
	return listing, nil
}

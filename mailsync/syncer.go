// Package mailsync runs incremental synchronization of one account's remote
// mailbox into the local store and reports progress as events.
package mailsync

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/k0kubun/pp/v3"
	"github.com/masa23/mailsync/mailbox"
	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/mailparser"
	"github.com/masa23/mailsync/model"
	"github.com/pkg/errors"
)

const CancelledMessage = "sync cancelled"

// ErrConflict is returned when a run for the same account is already active.
var ErrConflict = errors.New("sync already running for this account")

// PreconditionError is returned when the account cannot be synchronized at
// all. No connection is attempted.
type PreconditionError struct {
	AccountID uint64
	Reason    string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("account %d: %s", e.AccountID, e.Reason)
}

// Mailbox is an open session on the remote store.
type Mailbox interface {
	Fetch(ctx context.Context, cutoff time.Time, hasCutoff bool) (Listing, error)
	Close() error
}

// Listing yields candidate messages one at a time. Next returns nil, nil
// when exhausted. A *mailbox.ConnectionError from Next ends the run, any
// other error only affects the current candidate.
type Listing interface {
	Total() int
	Next(ctx context.Context) (*mailparser.Message, error)
}

type Dialer interface {
	Dial(ctx context.Context, account *model.Account) (Mailbox, error)
}

type DialerFunc func(ctx context.Context, account *model.Account) (Mailbox, error)

func (f DialerFunc) Dial(ctx context.Context, account *model.Account) (Mailbox, error) {
	return f(ctx, account)
}

// Locker grants one running sync per account. ok is false while another
// run holds the account.
type Locker interface {
	TryLock(ctx context.Context, accountID uint64) (unlock func(), ok bool, err error)
}

type Ingester interface {
	Ingest(ctx context.Context, account *model.Account, msg *mailparser.Message) (mailope.Outcome, error)
}

type Result struct {
	Created int
	Skipped int
	Failed  int
	Total   int
}

type Syncer struct {
	Store    mailope.Store
	Dial     Dialer
	Ingester Ingester
	// Locks serializes runs per account. A nil Locks disables the check.
	Locks Locker
	Now   func() time.Time
}

// Run synchronizes one account. Every event is passed to emit in order.
// A run that fails before or while listing emits a single Error event and
// no Completed event; failures of single messages are reported as failed
// Processing events and the run continues.
func (s *Syncer) Run(ctx context.Context, accountID uint64, emit func(Event)) (Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	var result Result

	fail := func(err error) (Result, error) {
		log.Printf("Sync for account %d failed: %v", accountID, err)
		emit(Error{Message: err.Error()})
		return result, err
	}

	if s.Locks != nil {
		unlock, ok, err := s.Locks.TryLock(ctx, accountID)
		if err != nil {
			return fail(errors.Wrap(err, "lock account"))
		}
		if !ok {
			log.Printf("Sync for account %d rejected: already running", accountID)
			emit(Error{Message: ErrConflict.Error()})
			return result, ErrConflict
		}
		defer unlock()
	}

	account, err := s.Store.FindAccount(ctx, accountID)
	if err != nil {
		return fail(errors.Wrap(err, "load account"))
	}
	if account == nil {
		return fail(&PreconditionError{AccountID: accountID, Reason: "account not found"})
	}
	if !account.IsActive {
		return fail(&PreconditionError{AccountID: accountID, Reason: "account is inactive"})
	}

	emit(Starting{Message: StartingMessage})

	session, err := s.Dial.Dial(ctx, account)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Error closing session for %s: %v", account.Email, err)
		}
	}()

	cutoff, hasCutoff, err := ResolveCutoff(ctx, s.Store, account.ID)
	if err != nil {
		return fail(err)
	}
	if hasCutoff {
		log.Printf("Fetching messages for %s since %s", account.Email, cutoff.Format("2006-01-02"))
	} else {
		log.Printf("Fetching all messages for %s", account.Email)
	}

	listing, err := session.Fetch(ctx, cutoff, hasCutoff)
	if err != nil {
		return fail(errors.Wrap(err, "fetch"))
	}
	result.Total = listing.Total()

	cancelled := func(err error) (Result, error) {
		log.Printf("Sync for %s cancelled after %d of %d messages", account.Email, result.Created+result.Skipped+result.Failed, result.Total)
		emit(Error{Message: CancelledMessage})
		return result, errors.Wrap(err, CancelledMessage)
	}

	for i := 1; ; i++ {
		// 次のメッセージに進む前だけキャンセルを確認する
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		msg, err := listing.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cancelled(ctxErr)
			}
			var connErr *mailbox.ConnectionError
			if errors.As(err, &connErr) {
				return fail(err)
			}
			result.Failed++
			log.Printf("Error fetching message %d/%d for %s: %v", i, result.Total, account.Email, err)
			emit(processingEvent(i, result.Total, msg, err))
			continue
		}
		if msg == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		outcome, err := s.ingest(ctx, account, msg)
		if err != nil {
			result.Failed++
			log.Printf("Error ingesting message %d/%d for %s: %v", i, result.Total, account.Email, err)
			emit(processingEvent(i, result.Total, msg, err))
			continue
		}

		ev := processingEvent(i, result.Total, msg, nil)
		if outcome.Kind == mailope.Skipped {
			result.Skipped++
			ev.Skipped = true
		} else {
			result.Created++
		}
		emit(ev)
	}

	if err := s.Store.MarkAccountChecked(context.WithoutCancel(ctx), account.ID, s.now()); err != nil {
		log.Printf("Error updating last checked time for %s: %v", account.Email, err)
	}

	log.Println(pp.Sprintf("Sync finished for %s: %v", account.Email, result))
	emit(Completed{Message: CompletedMessage})
	return result, nil
}

// ingest runs the ingester and turns a panic into an error for this message.
func (s *Syncer) ingest(ctx context.Context, account *model.Account, msg *mailparser.Message) (outcome mailope.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic while ingesting %s: %v\n%s", msg.ProviderID, r, debug.Stack())
			err = &mailope.IngestError{
				ProviderID: msg.ProviderID,
				Subject:    msg.Subject,
				Sender:     msg.Sender,
				Err:        fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return s.Ingester.Ingest(ctx, account, msg)
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func processingEvent(i, total int, msg *mailparser.Message, err error) Processing {
	ev := Processing{Progress: i, Total: total}
	if msg != nil {
		date := msg.ReceivedAt
		if date.IsZero() {
			date = msg.SentAt
		}
		ev.Message = MessageInfo{Subject: msg.Subject, Sender: msg.Sender, Date: date}
	}
	if err != nil {
		ev.Failed = true
		ev.Error = err.Error()
	}
	return ev
}

package mailsync

import (
	"context"
	"time"

	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/model"
	"github.com/pkg/errors"
)

// CutoffFor returns the start of the day latest was received on. ok is false
// when there is no previous message and the whole mailbox must be scanned.
// Messages from that day are fetched again and dropped as duplicates.
func CutoffFor(latest *model.Message) (cutoff time.Time, ok bool) {
	if latest == nil {
		return time.Time{}, false
	}
	y, m, d := latest.ReceivedAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, latest.ReceivedAt.Location()), true
}

func ResolveCutoff(ctx context.Context, store mailope.Store, accountID uint64) (time.Time, bool, error) {
	latest, err := store.FindLatestMessage(ctx, accountID)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "resolve cutoff")
	}
	cutoff, ok := CutoffFor(latest)
	return cutoff, ok, nil
}

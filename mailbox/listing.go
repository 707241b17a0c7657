package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/k0kubun/pp/v3"
	"github.com/masa23/mailsync/mailparser"
)

// Listing is the result of a search. UIDs are known up front, message
// bodies are fetched one at a time by Next.
type Listing struct {
	session *Session
	uids    []imap.UID
	pos     int
}

func (l *Listing) Total() int {
	return len(l.uids)
}

// ProviderID returns the identifier stored for a message. It stays stable as
// long as the mailbox keeps its UIDVALIDITY.
func ProviderID(uidValidity uint32, uid imap.UID) string {
	return strconv.FormatUint(uint64(uidValidity), 10) + "." + strconv.FormatUint(uint64(uid), 10)
}

// Next fetches and decodes the next message. It returns nil, nil once the
// listing is exhausted. A *ConnectionError means the session is unusable;
// any other error applies to this message only, in which case the returned
// message carries whatever could be decoded.
func (l *Listing) Next(ctx context.Context) (*mailparser.Message, error) {
	if l.pos >= len(l.uids) {
		return nil, nil
	}
	uid := l.uids[l.pos]
	l.pos++

	s := l.session
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	options := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}
	cmd := s.client.Fetch(imap.UIDSetNum(uid), options)

	var buf *imapclient.FetchMessageBuffer
	if data := cmd.Next(); data != nil {
		b, err := data.Collect()
		if err != nil {
			cmd.Close()
			return l.placeholder(uid), s.classify("fetch", err)
		}
		buf = b
	}
	if err := cmd.Close(); err != nil {
		return l.placeholder(uid), s.classify("fetch", err)
	}
	if buf == nil {
		// 検索後に削除されたメッセージ
		return l.placeholder(uid), fmt.Errorf("message uid %d no longer exists", uid)
	}

	msg, err := mailparser.Parse(bytes.NewReader(buf.FindBodySection(section)))
	if msg == nil {
		msg = &mailparser.Message{}
	}
	msg.ProviderID = ProviderID(s.uidValidity, uid)
	if !buf.InternalDate.IsZero() {
		msg.ReceivedAt = buf.InternalDate
	}
	fillFromEnvelope(msg, buf.Envelope)

	if s.debug {
		log.Println(pp.Sprintf("Fetched uid %d: subject=%s sender=%s attachments=%d", uid, msg.Subject, msg.Sender, len(msg.Attachments)))
	}
	if err != nil {
		return msg, fmt.Errorf("error decoding message uid %d: %w", uid, err)
	}
	return msg, nil
}

func (l *Listing) placeholder(uid imap.UID) *mailparser.Message {
	return &mailparser.Message{ProviderID: ProviderID(l.session.uidValidity, uid)}
}

// fillFromEnvelope fills header fields the body could not provide.
func fillFromEnvelope(msg *mailparser.Message, env *imap.Envelope) {
	if env == nil {
		return
	}
	if msg.Subject == "" {
		msg.Subject = env.Subject
	}
	if msg.Sender == "" && len(env.From) > 0 {
		msg.Sender = env.From[0].Addr()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = env.Date
	}
}

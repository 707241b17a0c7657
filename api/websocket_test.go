package api_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/masa23/mailsync/api"
	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/mailope/mailopetest"
	"github.com/masa23/mailsync/mailparser"
	"github.com/masa23/mailsync/mailsync"
	"github.com/masa23/mailsync/model"
	"github.com/masa23/mailsync/objectstorage"
	"golang.org/x/net/websocket"
)

// fakeListing returns msgs in order. If block is set, Next blocks before
// returning the message at index blockAt until block returns.
type fakeListing struct {
	msgs    []*mailparser.Message
	pos     int
	blockAt int
	block   func(ctx context.Context) error
}

func (l *fakeListing) Total() int { return len(l.msgs) }

func (l *fakeListing) Next(ctx context.Context) (*mailparser.Message, error) {
	if l.pos >= len(l.msgs) {
		return nil, nil
	}
	if l.block != nil && l.pos == l.blockAt {
		if err := l.block(ctx); err != nil {
			return nil, err
		}
	}
	msg := l.msgs[l.pos]
	l.pos++
	return msg, nil
}

type fakeMailbox struct {
	listing *fakeListing
}

func (m *fakeMailbox) Fetch(context.Context, time.Time, bool) (mailsync.Listing, error) {
	return m.listing, nil
}

func (m *fakeMailbox) Close() error { return nil }

type fixture struct {
	store   *mailope.GormStore
	blobs   *objectstorage.Memory
	account *model.Account
	listing *fakeListing
	server  *api.Server
	http    *httptest.Server
}

func candidates(n int) []*mailparser.Message {
	base := time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC)
	var msgs []*mailparser.Message
	for i := n; i >= 1; i-- {
		id := "1." + string(rune('0'+i))
		msgs = append(msgs, &mailparser.Message{
			ProviderID: id,
			Subject:    "subject " + id,
			Sender:     "from@example.com",
			SentAt:     base.Add(time.Duration(i) * time.Minute),
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
			TextBody:   "body",
		})
	}
	return msgs
}

func newFixture(t *testing.T, msgs ...*mailparser.Message) *fixture {
	t.Helper()
	f := &fixture{
		store:   mailopetest.NewStore(t),
		blobs:   objectstorage.NewMemory(),
		listing: &fakeListing{msgs: msgs},
	}
	f.account = mailopetest.CreateAccount(t, f.store, &model.Account{
		Email:    "user@gmail.com",
		Password: "app-password",
		Provider: model.ProviderGmail,
		IsActive: true,
	})

	syncer := &mailsync.Syncer{
		Store: f.store,
		Dial: mailsync.DialerFunc(func(context.Context, *model.Account) (mailsync.Mailbox, error) {
			return &fakeMailbox{listing: f.listing}, nil
		}),
		Ingester: mailope.NewIngester(f.store, f.blobs),
		Locks:    mailope.NewLeaseLocks(f.store),
	}
	f.server = api.NewServer(f.store, f.blobs, syncer)
	f.http = httptest.NewServer(f.server.Echo())
	t.Cleanup(func() {
		f.server.Wait()
		f.http.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/emails/"
	ws, err := websocket.Dial(url, "", f.http.URL)
	if err != nil {
		t.Fatalf("websocket.Dial() error = %v", err)
	}
	return ws
}

type wireEvent struct {
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Total    int             `json:"total"`
	Failed   bool            `json:"failed"`
	Message  json.RawMessage `json:"message"`
}

func (e wireEvent) text() string {
	var s string
	json.Unmarshal(e.Message, &s)
	return s
}

func send(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	if err := websocket.Message.Send(ws, msg); err != nil {
		t.Fatalf("send %s: %v", msg, err)
	}
}

func receive(t *testing.T, ws *websocket.Conn) wireEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ev wireEvent
	if err := websocket.JSON.Receive(ws, &ev); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return ev
}

func startMessage(id uint64) string {
	buf, _ := json.Marshal(map[string]uint64{"account_id": id})
	return string(buf)
}

func TestSyncSocketStreamsProgress(t *testing.T) {
	f := newFixture(t, candidates(2)...)
	ws := f.dial(t)
	defer ws.Close()

	send(t, ws, startMessage(f.account.ID))

	if ev := receive(t, ws); ev.Type != "sync_status" || ev.Status != "starting" {
		t.Fatalf("first event = %+v; want starting", ev)
	}
	for i := 1; i <= 2; i++ {
		ev := receive(t, ws)
		if ev.Status != "processing" || ev.Progress != i || ev.Total != 2 {
			t.Fatalf("event %d = %+v; want processing %d/2", i, ev, i)
		}
		var info struct {
			Subject string `json:"subject"`
			Date    string `json:"date"`
		}
		if err := json.Unmarshal(ev.Message, &info); err != nil {
			t.Fatalf("processing message: %v", err)
		}
		if info.Subject == "" || info.Date == "" {
			t.Errorf("processing message = %s; want subject and date", ev.Message)
		}
	}
	if ev := receive(t, ws); ev.Status != "completed" || ev.text() != mailsync.CompletedMessage {
		t.Errorf("last event = %+v; want completed", ev)
	}
}

func TestSyncSocketRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	defer ws.Close()

	for _, msg := range []string{"not json", "{}", `{"action":"pause"}`, `{"action":"cancel"}`} {
		send(t, ws, msg)
		if ev := receive(t, ws); ev.Type != "error" || ev.text() == "" {
			t.Errorf("reply to %s = %+v; want an error event", msg, ev)
		}
	}
}

func TestSyncSocketInactiveAccount(t *testing.T) {
	f := newFixture(t, candidates(1)...)
	if err := f.store.SetAccountActive(context.Background(), f.account.ID, false); err != nil {
		t.Fatalf("SetAccountActive() error = %v", err)
	}
	ws := f.dial(t)
	defer ws.Close()

	send(t, ws, startMessage(f.account.ID))
	if ev := receive(t, ws); ev.Type != "error" {
		t.Errorf("event = %+v; want a single error event", ev)
	}
}

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSyncSocketCancel(t *testing.T) {
	f := newFixture(t, candidates(3)...)
	f.listing.blockAt = 1
	f.listing.block = blockUntilCancelled
	ws := f.dial(t)
	defer ws.Close()

	send(t, ws, startMessage(f.account.ID))
	receive(t, ws) // starting
	if ev := receive(t, ws); ev.Progress != 1 {
		t.Fatalf("event = %+v; want progress 1", ev)
	}

	send(t, ws, `{"action":"cancel"}`)
	if ev := receive(t, ws); ev.Type != "error" || ev.text() != mailsync.CancelledMessage {
		t.Errorf("event = %+v; want the cancellation error", ev)
	}

	f.server.Wait()
	_, total, err := f.store.ListMessages(context.Background(), mailope.MessageFilter{})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if total != 1 {
		t.Errorf("stored messages = %d; want 1", total)
	}
}

func TestSyncSocketSecondStartRejected(t *testing.T) {
	f := newFixture(t, candidates(2)...)
	f.listing.blockAt = 1
	f.listing.block = blockUntilCancelled
	ws := f.dial(t)
	defer ws.Close()

	send(t, ws, startMessage(f.account.ID))
	receive(t, ws) // starting
	receive(t, ws) // processing 1

	send(t, ws, startMessage(f.account.ID))
	if ev := receive(t, ws); ev.Type != "error" || !strings.Contains(ev.text(), "already in progress") {
		t.Errorf("event = %+v; want the in-progress error", ev)
	}

	send(t, ws, `{"action":"cancel"}`)
	if ev := receive(t, ws); ev.text() != mailsync.CancelledMessage {
		t.Errorf("event = %+v; want the cancellation error", ev)
	}
}

func TestSyncSocketRunOutlivesObserver(t *testing.T) {
	f := newFixture(t, candidates(3)...)
	release := make(chan struct{})
	f.listing.blockAt = 1
	f.listing.block = func(context.Context) error {
		<-release
		return nil
	}
	ws := f.dial(t)

	send(t, ws, startMessage(f.account.ID))
	receive(t, ws) // starting
	receive(t, ws) // processing 1
	ws.Close()
	close(release)

	f.server.Wait()
	_, total, err := f.store.ListMessages(context.Background(), mailope.MessageFilter{})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if total != 3 {
		t.Errorf("stored messages = %d; want 3", total)
	}
	account, err := f.store.FindAccount(context.Background(), f.account.ID)
	if err != nil || account == nil || account.LastChecked == nil {
		t.Errorf("account = %+v, %v; want LastChecked set", account, err)
	}
}

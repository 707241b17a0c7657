package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/mailparser"
	"github.com/masa23/mailsync/model"
)

func seed(t *testing.T, f *fixture, n int) []*model.Message {
	t.Helper()
	ingester := mailope.NewIngester(f.store, f.blobs)
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	var stored []*model.Message
	for i := 1; i <= n; i++ {
		msg := &mailparser.Message{
			ProviderID: "7." + strconv.Itoa(i),
			Subject:    "message " + strconv.Itoa(i),
			Sender:     "from@example.com",
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
			TextBody:   "body",
			Attachments: []mailparser.Attachment{
				{Filename: "report " + strconv.Itoa(i) + ".txt", ContentType: "text/plain", Data: []byte("content " + strconv.Itoa(i))},
			},
		}
		outcome, err := ingester.Ingest(context.Background(), f.account, msg)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		stored = append(stored, outcome.Message)
	}
	return stored
}

func do(t *testing.T, f *fixture, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	seed(t, f, 5)

	res := do(t, f, "GET", "/api/messages?per_page=2&page=2")
	if res.StatusCode != 200 {
		t.Fatalf("status = %d; want 200", res.StatusCode)
	}
	var body struct {
		Messages []model.Message `json:"messages"`
		Total    int64           `json:"total"`
		Page     int             `json:"page"`
		PerPage  int             `json:"per_page"`
	}
	decode(t, res, &body)

	if body.Total != 5 || body.Page != 2 || body.PerPage != 2 {
		t.Errorf("paging = total %d page %d per_page %d; want 5, 2, 2", body.Total, body.Page, body.PerPage)
	}
	if len(body.Messages) != 2 || body.Messages[0].Subject != "message 3" || body.Messages[1].Subject != "message 2" {
		t.Errorf("messages = %+v; want message 3 and message 2", body.Messages)
	}
	if len(body.Messages) > 0 && len(body.Messages[0].Attachments) != 1 {
		t.Errorf("attachments summary = %+v; want one entry", body.Messages[0].Attachments)
	}
}

func TestListMessagesPageOutOfRange(t *testing.T) {
	f := newFixture(t)
	seed(t, f, 1)

	for _, page := range []string{"9223372036854775807", "10737420"} {
		if res := do(t, f, "GET", "/api/messages?per_page=200&page="+page); res.StatusCode != 400 {
			t.Errorf("page=%s status = %d; want 400", page, res.StatusCode)
		}
	}
	if res := do(t, f, "GET", "/api/messages?per_page=200&page=10737419"); res.StatusCode != 200 {
		t.Errorf("last valid page status = %d; want 200", res.StatusCode)
	}
}

func TestListMessagesByAccount(t *testing.T) {
	f := newFixture(t)
	seed(t, f, 2)

	res := do(t, f, "GET", "/api/messages?account_id=999")
	var body struct {
		Messages []model.Message `json:"messages"`
		Total    int64           `json:"total"`
	}
	decode(t, res, &body)
	if body.Total != 0 || body.Messages == nil {
		t.Errorf("body = %+v; want an empty list", body)
	}

	if res := do(t, f, "GET", "/api/messages?account_id=abc"); res.StatusCode != 400 {
		t.Errorf("status = %d; want 400", res.StatusCode)
	}
}

func TestGetMessage(t *testing.T) {
	f := newFixture(t)
	msgs := seed(t, f, 1)

	res := do(t, f, "GET", "/api/messages/"+strconv.FormatUint(msgs[0].ID, 10))
	if res.StatusCode != 200 {
		t.Fatalf("status = %d; want 200", res.StatusCode)
	}
	var got model.Message
	decode(t, res, &got)
	if got.Subject != "message 1" || got.Content != "body" {
		t.Errorf("message = %+v", got)
	}

	for path, want := range map[string]int{"/api/messages/999": 404, "/api/messages/x": 400} {
		if res := do(t, f, "GET", path); res.StatusCode != want {
			t.Errorf("GET %s status = %d; want %d", path, res.StatusCode, want)
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	msgs := seed(t, f, 2)
	path := "/api/messages/" + strconv.FormatUint(msgs[0].ID, 10)

	if res := do(t, f, "DELETE", path); res.StatusCode != 204 {
		t.Fatalf("DELETE status = %d; want 204", res.StatusCode)
	}
	if res := do(t, f, "GET", path); res.StatusCode != 404 {
		t.Errorf("GET after delete status = %d; want 404", res.StatusCode)
	}
	if res := do(t, f, "DELETE", path); res.StatusCode != 404 {
		t.Errorf("second DELETE status = %d; want 404", res.StatusCode)
	}
	if n := len(f.blobs.Keys()); n != 1 {
		t.Errorf("blob count = %d; want 1", n)
	}
}

func TestGetAttachment(t *testing.T) {
	f := newFixture(t)
	msgs := seed(t, f, 1)
	id := msgs[0].Attachments[0].ID

	res := do(t, f, "GET", "/api/attachments/"+strconv.FormatUint(id, 10))
	if res.StatusCode != 200 {
		t.Fatalf("status = %d; want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "content 1" {
		t.Errorf("body = %q; want %q", body, "content 1")
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q; want text/plain", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="report 1.txt"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	if res := do(t, f, "GET", "/api/attachments/12345"); res.StatusCode != 404 {
		t.Errorf("missing attachment status = %d; want 404", res.StatusCode)
	}
}

func TestDeleteAttachment(t *testing.T) {
	f := newFixture(t)
	msgs := seed(t, f, 1)
	id := msgs[0].Attachments[0].ID

	if res := do(t, f, "DELETE", "/api/attachments/"+strconv.FormatUint(id, 10)); res.StatusCode != 204 {
		t.Fatalf("DELETE status = %d; want 204", res.StatusCode)
	}

	res := do(t, f, "GET", "/api/messages/"+strconv.FormatUint(msgs[0].ID, 10))
	var got model.Message
	decode(t, res, &got)
	if len(got.Attachments) != 0 {
		t.Errorf("attachments summary = %+v; want empty", got.Attachments)
	}
	if n := len(f.blobs.Keys()); n != 0 {
		t.Errorf("blob count = %d; want 0", n)
	}
}

func TestListAccountsHidesPassword(t *testing.T) {
	f := newFixture(t)

	res := do(t, f, "GET", "/api/accounts")
	if res.StatusCode != 200 {
		t.Fatalf("status = %d; want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if strings.Contains(string(body), f.account.Password) {
		t.Errorf("response leaks the password: %s", body)
	}
	var accounts []model.Account
	if err := json.Unmarshal(body, &accounts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Email != f.account.Email {
		t.Errorf("accounts = %+v", accounts)
	}
}

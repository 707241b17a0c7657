package mailsync

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	StartingMessage  = "Начало синхронизации..."
	CompletedMessage = "Синхронизация завершена"

	// DateLayout is the format of the date shown for a processed message.
	DateLayout = "2006-01-02 15:04"
)

// Event is one progress notification of a sync run. It is one of
// Starting, Processing, Completed or Error.
type Event interface {
	event()
}

type Starting struct {
	Message string
}

// MessageInfo describes the candidate a Processing event refers to.
type MessageInfo struct {
	Subject string
	Sender  string
	Date    time.Time
}

type Processing struct {
	// Progress is 1-based and advances for every candidate, failed or not.
	Progress int
	Total    int
	Message  MessageInfo
	Skipped  bool
	Failed   bool
	Error    string
}

type Completed struct {
	Message string
}

type Error struct {
	Message string
}

func (Starting) event()   {}
func (Processing) event() {}
func (Completed) event()  {}
func (Error) event()      {}

type statusPayload struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type processingPayload struct {
	Type     string      `json:"type"`
	Status   string      `json:"status"`
	Progress int         `json:"progress"`
	Total    int         `json:"total"`
	Message  messageJSON `json:"message"`
	Skipped  bool        `json:"skipped,omitempty"`
	Failed   bool        `json:"failed,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type messageJSON struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MarshalEvent encodes ev in the JSON form sent to observers.
func MarshalEvent(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case Starting:
		return json.Marshal(statusPayload{Type: "sync_status", Status: "starting", Message: ev.Message})
	case Processing:
		var date string
		if !ev.Message.Date.IsZero() {
			date = ev.Message.Date.Format(DateLayout)
		}
		return json.Marshal(processingPayload{
			Type:     "sync_status",
			Status:   "processing",
			Progress: ev.Progress,
			Total:    ev.Total,
			Message: messageJSON{
				Subject: ev.Message.Subject,
				Sender:  ev.Message.Sender,
				Date:    date,
			},
			Skipped: ev.Skipped,
			Failed:  ev.Failed,
			Error:   ev.Error,
		})
	case Completed:
		return json.Marshal(statusPayload{Type: "sync_status", Status: "completed", Message: ev.Message})
	case Error:
		return json.Marshal(errorPayload{Type: "error", Message: ev.Message})
	}
	return nil, fmt.Errorf("unknown event type %T", ev)
}

package api

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/masa23/mailsync/mailsync"
)

func TestRelayDeliversInOrder(t *testing.T) {
	var got []int
	relay := &Relay{Send: func(buf []byte) error {
		var ev struct {
			Progress int `json:"progress"`
		}
		if err := json.Unmarshal(buf, &ev); err != nil {
			return err
		}
		got = append(got, ev.Progress)
		return nil
	}}

	err := relay.Run(func(emit func(mailsync.Event)) {
		for i := 1; i <= 50; i++ {
			emit(mailsync.Processing{Progress: i, Total: 50})
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("delivered %d events; want 50", len(got))
	}
	for i, p := range got {
		if p != i+1 {
			t.Fatalf("event %d has progress %d; want %d", i, p, i+1)
		}
	}
}

func TestRelayKeepsRunningAfterObserverLeaves(t *testing.T) {
	gone := errors.New("broken pipe")
	sent := 0
	relay := &Relay{Send: func([]byte) error {
		sent++
		if sent > 2 {
			return gone
		}
		return nil
	}}

	emitted := 0
	err := relay.Run(func(emit func(mailsync.Event)) {
		// キューより多く送っても詰まらない
		for i := 0; i < 4*relayQueueSize; i++ {
			emit(mailsync.Processing{Progress: i + 1})
			emitted++
		}
		emit(mailsync.Completed{Message: mailsync.CompletedMessage})
		emitted++
	})
	if !errors.Is(err, gone) {
		t.Errorf("Run() error = %v; want %v", err, gone)
	}
	if emitted != 4*relayQueueSize+1 {
		t.Errorf("run emitted %d events; want all of them", emitted)
	}
	if sent != 3 {
		t.Errorf("Send called %d times; want 3", sent)
	}
}

func TestRelayStalledObserverDoesNotBlockRun(t *testing.T) {
	block := make(chan struct{})
	relay := &Relay{
		Send: func([]byte) error {
			<-block
			return nil
		},
		Stall: 50 * time.Millisecond,
	}

	const total = 100
	emitted := 0
	finished := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- relay.Run(func(emit func(mailsync.Event)) {
			defer close(finished)
			for i := 1; i <= total; i++ {
				emit(mailsync.Processing{Progress: i, Total: total})
				emitted++
			}
		})
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		close(block)
		t.Fatal("run blocked on an observer that never reads")
	}
	if emitted != total {
		t.Errorf("run emitted %d events; want %d", emitted, total)
	}

	close(block)
	select {
	case err := <-result:
		if !errors.Is(err, errObserverStalled) {
			t.Errorf("Run() error = %v; want %v", err, errObserverStalled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the observer unblocked")
	}
}

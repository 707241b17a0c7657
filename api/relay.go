package api

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/masa23/mailsync/mailsync"
	"golang.org/x/sync/errgroup"
)

const (
	relayQueueSize = 16
	// writeTimeout bounds one event write and the time a run waits on a
	// full queue.
	writeTimeout = 10 * time.Second
)

var errObserverStalled = errors.New("observer stopped reading")

// Relay forwards the events of one run to one observer in the order they
// were emitted. Once a send fails or the observer falls a full queue behind
// for longer than Stall, later events are dropped and the run keeps going.
type Relay struct {
	Send  func([]byte) error
	Stall time.Duration
}

// Run calls run with an emit function and delivers its events until run
// returns. It returns the first delivery error, if any.
func (r *Relay) Run(run func(emit func(mailsync.Event))) error {
	stall := r.Stall
	if stall <= 0 {
		stall = writeTimeout
	}
	events := make(chan mailsync.Event, relayQueueSize)
	gone := make(chan struct{})
	var goneOnce sync.Once
	markGone := func() { goneOnce.Do(func() { close(gone) }) }

	var g errgroup.Group
	g.Go(func() error {
		defer close(events)
		run(func(ev mailsync.Event) {
			select {
			case <-gone:
				return
			case events <- ev:
				return
			default:
			}
			timer := time.NewTimer(stall)
			defer timer.Stop()
			select {
			case <-gone:
			case events <- ev:
			case <-timer.C:
				log.Printf("Observer stalled for %s, discarding remaining events", stall)
				markGone()
			}
		})
		return nil
	})
	g.Go(func() error {
		var sendErr error
		for ev := range events {
			if sendErr == nil {
				select {
				case <-gone:
					sendErr = errObserverStalled
				default:
				}
			}
			// 送信に失敗した後もキューは最後まで読み捨てる
			if sendErr != nil {
				continue
			}
			buf, err := mailsync.MarshalEvent(ev)
			if err != nil {
				log.Printf("Error encoding event %T: %v", ev, err)
				continue
			}
			if err := r.Send(buf); err != nil {
				log.Printf("Observer gone, discarding remaining events: %v", err)
				sendErr = err
				markGone()
			}
		}
		return sendErr
	})
	return g.Wait()
}

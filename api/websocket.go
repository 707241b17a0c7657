package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/masa23/mailsync/mailsync"
	"golang.org/x/net/websocket"
)

const (
	actionCancel = "cancel"

	errRunInProgress = "sync already in progress on this connection"
	errNoRun         = "no sync in progress on this connection"
)

type clientMessage struct {
	AccountID uint64 `json:"account_id"`
	Action    string `json:"action"`
}

func (s *Server) syncSocket(c echo.Context) error {
	// Origin は CORS と同じく制限しない
	srv := websocket.Server{Handler: s.serveSync}
	srv.ServeHTTP(c.Response(), c.Request())
	return nil
}

// syncConn is the state of one observer connection. At most one run is
// active per connection.
type syncConn struct {
	ws *websocket.Conn

	sendMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *syncConn) send(buf []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	// 読まない相手への書き込みで同期を止めない
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(buf))
}

func (c *syncConn) sendError(msg string) {
	buf, err := mailsync.MarshalEvent(mailsync.Error{Message: msg})
	if err != nil {
		log.Printf("Error encoding error event: %v", err)
		return
	}
	if err := c.send(buf); err != nil {
		log.Printf("Error sending error event: %v", err)
	}
}

func (s *Server) serveSync(ws *websocket.Conn) {
	conn := &syncConn{ws: ws}
	// 実行中の同期は接続が切れても最後まで続ける
	base := context.WithoutCancel(ws.Request().Context())

	for {
		var data string
		if err := websocket.Message.Receive(ws, &data); err != nil {
			if err != io.EOF {
				log.Printf("Error reading from observer: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			conn.sendError("invalid message: " + err.Error())
			continue
		}

		switch {
		case msg.Action == actionCancel:
			conn.mu.Lock()
			cancel := conn.cancel
			conn.mu.Unlock()
			if cancel == nil {
				conn.sendError(errNoRun)
				continue
			}
			cancel()
		case msg.Action != "":
			conn.sendError("unknown action: " + msg.Action)
		case msg.AccountID == 0:
			conn.sendError("account_id is required")
		default:
			s.startRun(base, conn, msg.AccountID)
		}
	}
}

func (s *Server) startRun(base context.Context, conn *syncConn, accountID uint64) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.cancel != nil {
		conn.sendError(errRunInProgress)
		return
	}
	ctx, cancel := context.WithCancel(base)
	conn.cancel = cancel

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			conn.mu.Lock()
			conn.cancel = nil
			conn.mu.Unlock()
			cancel()
		}()

		relay := &Relay{Send: conn.send, Stall: writeTimeout}
		err := relay.Run(func(emit func(mailsync.Event)) {
			if _, err := s.Syncer.Run(ctx, accountID, emit); err != nil {
				log.Printf("Sync run for account %d ended with error: %v", accountID, err)
			}
		})
		if err != nil {
			log.Printf("Progress for account %d was not fully delivered: %v", accountID, err)
		}
	}()
}

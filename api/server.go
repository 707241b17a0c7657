// Package api serves the HTTP API and the sync progress WebSocket.
package api

import (
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/mailsync"
	"github.com/masa23/mailsync/objectstorage"
)

type Server struct {
	Store   mailope.Store
	Blobs   objectstorage.Blobs
	Syncer  *mailsync.Syncer
	Remover *mailope.Remover

	// runs tracks sync runs that outlive their WebSocket connection.
	runs sync.WaitGroup
}

func NewServer(store mailope.Store, blobs objectstorage.Blobs, syncer *mailsync.Syncer) *Server {
	return &Server{
		Store:   store,
		Blobs:   blobs,
		Syncer:  syncer,
		Remover: &mailope.Remover{Store: store, Blobs: blobs},
	}
}

// Echo returns the router with every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	// ルーティング
	e.GET("/ws/emails/", s.syncSocket)

	api := e.Group("/api")
	api.GET("/accounts", s.listAccounts)
	api.GET("/messages", s.listMessages)
	api.GET("/messages/:id", s.getMessage)
	api.DELETE("/messages/:id", s.deleteMessage)
	api.GET("/attachments/:id", s.getAttachment)
	api.DELETE("/attachments/:id", s.deleteAttachment)
	return e
}

// Wait blocks until every sync run started by the server has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

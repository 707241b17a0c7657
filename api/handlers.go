package api

import (
	"errors"
	"math"
	"mime"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/model"
	"github.com/masa23/mailsync/objectstorage"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

type messageList struct {
	Messages []model.Message `json:"messages"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PerPage  int             `json:"per_page"`
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func paramID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func (s *Server) listAccounts(c echo.Context) error {
	accounts, err := s.Store.ListAccounts(c.Request().Context())
	if err != nil {
		c.Logger().Error("Failed to list accounts: ", err)
		return errorJSON(c, 500, "Failed to fetch accounts")
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	return c.JSON(200, accounts)
}

// listMessages returns messages newest first, one page at a time.
func (s *Server) listMessages(c echo.Context) error {
	page := queryInt(c, "page", 1)
	perPage := min(queryInt(c, "per_page", defaultPerPage), maxPerPage)
	// offset は 32bit に収まる範囲まで
	if page-1 > math.MaxInt32/perPage {
		return errorJSON(c, 400, "Invalid page")
	}

	filter := mailope.MessageFilter{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if v := c.QueryParam("account_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errorJSON(c, 400, "Invalid account_id")
		}
		filter.AccountID = id
	}

	msgs, total, err := s.Store.ListMessages(c.Request().Context(), filter)
	if err != nil {
		c.Logger().Error("Failed to list messages: ", err)
		return errorJSON(c, 500, "Failed to fetch messages")
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(200, messageList{Messages: msgs, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) getMessage(c echo.Context) error {
	id, ok := paramID(c)
	if !ok {
		return errorJSON(c, 400, "Invalid message id")
	}
	msg, err := s.Store.FindMessage(c.Request().Context(), id)
	if err != nil {
		c.Logger().Error("Failed to fetch message: ", err)
		return errorJSON(c, 500, "Failed to fetch message")
	}
	if msg == nil {
		return errorJSON(c, 404, "Message not found")
	}
	return c.JSON(200, msg)
}

func (s *Server) deleteMessage(c echo.Context) error {
	id, ok := paramID(c)
	if !ok {
		return errorJSON(c, 400, "Invalid message id")
	}
	if err := s.Remover.DeleteMessage(c.Request().Context(), id); err != nil {
		if errors.Is(err, mailope.ErrNotFound) {
			return errorJSON(c, 404, "Message not found")
		}
		c.Logger().Error("Failed to delete message: ", err)
		return errorJSON(c, 500, "Failed to delete message")
	}
	return c.NoContent(204)
}

// getAttachment streams the attachment's stored object.
func (s *Server) getAttachment(c echo.Context) error {
	id, ok := paramID(c)
	if !ok {
		return errorJSON(c, 400, "Invalid attachment id")
	}
	ctx := c.Request().Context()
	att, err := s.Store.FindAttachment(ctx, id)
	if err != nil {
		c.Logger().Error("Failed to fetch attachment: ", err)
		return errorJSON(c, 500, "Failed to fetch attachment")
	}
	if att == nil {
		return errorJSON(c, 404, "Attachment not found")
	}

	r, err := s.Blobs.Get(ctx, att.ObjectStorageKey)
	if err != nil {
		if errors.Is(err, objectstorage.ErrNotFound) {
			return errorJSON(c, 404, "Attachment object not found")
		}
		c.Logger().Error("Failed to download attachment: ", err)
		return errorJSON(c, 500, "Failed to download attachment")
	}
	defer r.Close()

	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}); disposition != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
	}
	return c.Stream(200, att.ContentType, r)
}

func (s *Server) deleteAttachment(c echo.Context) error {
	id, ok := paramID(c)
	if !ok {
		return errorJSON(c, 400, "Invalid attachment id")
	}
	if err := s.Remover.DeleteAttachment(c.Request().Context(), id); err != nil {
		if errors.Is(err, mailope.ErrNotFound) {
			return errorJSON(c, 404, "Attachment not found")
		}
		c.Logger().Error("Failed to delete attachment: ", err)
		return errorJSON(c, 500, "Failed to delete attachment")
	}
	return c.NoContent(204)
}

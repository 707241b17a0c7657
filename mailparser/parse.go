package mailparser

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is a decoded candidate message as handed to the ingester.
type Message struct {
	// ProviderID identifies the message within its account on the remote store.
	ProviderID  string
	Subject     string
	Sender      string
	SentAt      time.Time
	ReceivedAt  time.Time
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Body returns the plain text body if present, otherwise the HTML body.
func (m *Message) Body() (content, contentType string) {
	if m.TextBody != "" {
		return m.TextBody, "text/plain"
	}
	return m.HTMLBody, "text/html"
}

// Parse decodes an RFC 5322 message. On a decoding error the returned
// message still carries whatever headers were decoded so far.
func Parse(r io.Reader) (*Message, error) {
	msg := &Message{}

	mr, err := mail.CreateReader(r)
	if mr == nil {
		return msg, fmt.Errorf("error reading message: %w", err)
	}
	defer mr.Close()
	// go-message reports unknown charsets but still returns a usable reader
	if err != nil && !message.IsUnknownCharset(err) {
		return msg, fmt.Errorf("error reading message: %w", err)
	}

	parseHeader(&mr.Header, msg)

	for n := 1; ; n++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("error reading part %d: %w", n, err)
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("error reading part %d body: %w", n, err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case contentType == "text/plain" || contentType == "":
				if msg.TextBody == "" {
					msg.TextBody = string(body)
				}
			case contentType == "text/html":
				if msg.HTMLBody == "" {
					msg.HTMLBody = string(body)
				}
			default:
				// 非テキストのインラインパートは添付として扱う
				filename := inlineFilename(h)
				msg.Attachments = append(msg.Attachments, Attachment{
					Filename:    defaultFilename(filename, n),
					ContentType: contentType,
					Data:        body,
				})
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    defaultFilename(filename, n),
				ContentType: contentType,
				Data:        body,
			})
		}
	}

	return msg, nil
}

func parseHeader(h *mail.Header, msg *Message) {
	subject, err := h.Subject()
	if err != nil {
		subject, err = DecodeHeader(h.Get("Subject"))
		if err != nil {
			subject = h.Get("Subject")
		}
	}
	msg.Subject = subject

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		msg.Sender = SenderAddress(h.Get("From"))
	}

	if date, err := h.Date(); err == nil {
		msg.SentAt = date
	}
}

func inlineFilename(h *mail.InlineHeader) string {
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	if _, params, err := h.ContentType(); err == nil {
		return params["name"]
	}
	return ""
}

func defaultFilename(filename string, n int) string {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return fmt.Sprintf("attachment-%d", n)
	}
	return filename
}

// Package whatsapp provides WhatsApp messaging via the Meta Graph API.
//
// The chatbot only needs a handful of outbound shapes: plain text, reply
// buttons, selection lists, images, and read receipts. Sender abstracts
// those so the rest of the service can be tested against a mock.
package whatsapp

import (
	"context"
	"unicode/utf8"
)

// Interactive element limits imposed by the Graph API.
const (
	// MaxButtons is the maximum number of reply buttons per message.
	MaxButtons = 3
	// MaxButtonTitleLen is the maximum length of a reply button title.
	MaxButtonTitleLen = 20
	// MaxListRows is the maximum number of rows across all list sections.
	MaxListRows = 10
	// MaxRowTitleLen is the maximum length of a list row title.
	MaxRowTitleLen = 24
)

// Button is one tappable reply button. The ID comes back verbatim in the
// button_reply webhook payload.
type Button struct {
	ID    string
	Title string
}

// Row is one selectable row in a list message.
type Row struct {
	ID          string
	Title       string
	Description string
}

// Section groups list rows under an optional title.
type Section struct {
	Title string
	Rows  []Row
}

// Sender sends messages to WhatsApp users. Each send returns the provider
// message ID assigned by the Graph API.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error)
	SendList(ctx context.Context, to, body, buttonLabel string, sections []Section) (string, error)
	SendImage(ctx context.Context, to, imageURL, caption string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// truncate shortens s to max runes, appending no ellipsis; the Graph API
// rejects over-length titles outright. Cutting on runes rather than bytes
// keeps multibyte titles valid UTF-8.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

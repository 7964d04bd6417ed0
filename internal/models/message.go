// Package models defines the inbound message envelope shared between the
// webhook layer and the chatbot router.
package models

// MessageType classifies an inbound WhatsApp message.
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeOther       MessageType = "other"
)

// InteractiveReply is a structured button or list selection.
type InteractiveReply struct {
	// Kind is "button_reply" or "list_reply" as delivered by the channel.
	Kind string `json:"kind"`
	// ID is the underscore-delimited reply id chosen by the outbound builder.
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// InboundMessage is the normalized envelope handed to the router.
type InboundMessage struct {
	From        string            `json:"from"` // counterparty phone number
	ID          string            `json:"id"`   // channel message id, used for mark-read
	Timestamp   int64             `json:"timestamp"`
	Type        MessageType       `json:"type"`
	Text        string            `json:"text,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
}

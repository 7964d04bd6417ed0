package whatsapp

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one outbound message captured by the mock.
type SentMessage struct {
	To       string
	Kind     string // "text", "buttons", "list", "image"
	Body     string
	Buttons  []Button
	Sections []Section
	ImageURL string
}

// MockSender is an in-memory Sender used by tests across packages. It records
// every send and can be primed to fail.
type MockSender struct {
	mu       sync.Mutex
	sent     []SentMessage
	read     []string
	nextID   int
	FailNext error // returned (and cleared) by the next send
}

// Compile-time check that MockSender implements Sender.
var _ Sender = (*MockSender)(nil)

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) record(msg SentMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return "", err
	}
	m.nextID++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("wamid.mock.%d", m.nextID), nil
}

func (m *MockSender) SendText(_ context.Context, to, body string) (string, error) {
	return m.record(SentMessage{To: to, Kind: "text", Body: body})
}

func (m *MockSender) SendButtons(_ context.Context, to, body string, buttons []Button) (string, error) {
	return m.record(SentMessage{To: to, Kind: "buttons", Body: body, Buttons: buttons})
}

func (m *MockSender) SendList(_ context.Context, to, body, _ string, sections []Section) (string, error) {
	return m.record(SentMessage{To: to, Kind: "list", Body: body, Sections: sections})
}

func (m *MockSender) SendImage(_ context.Context, to, imageURL, caption string) (string, error) {
	return m.record(SentMessage{To: to, Kind: "image", Body: caption, ImageURL: imageURL})
}

func (m *MockSender) MarkRead(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, messageID)
	return nil
}

// Sent returns a copy of all recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent message, or nil when none were sent.
func (m *MockSender) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	msg := m.sent[len(m.sent)-1]
	return &msg
}

// ReadMessageIDs returns the message IDs marked as read.
func (m *MockSender) ReadMessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.read))
	copy(out, m.read)
	return out
}

// Reset clears all recorded state.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.read = nil
	m.FailNext = nil
}

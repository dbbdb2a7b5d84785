package testutil

import (
	"context"
	"sync"
)

// PublishedMessage is one captured broker publish.
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// MockPublisher captures publishes in memory. It satisfies the relay's
// Publisher interface, with optional error injection.
type MockPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	err      error
}

// NewMockPublisher creates an empty publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// SetError makes subsequent Publish calls fail with err. A nil err restores
// normal capture.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Publish records the message, or returns the injected error.
func (m *MockPublisher) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, PublishedMessage{
		Subject: subject,
		Data:    append([]byte(nil), data...),
	})
	return nil
}

// Count returns the number of captured messages.
func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Messages returns a copy of all captured messages in publish order.
func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.messages...)
}

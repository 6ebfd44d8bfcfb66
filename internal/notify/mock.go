package notify

import (
	"context"
	"fmt"
	"sync"
)

// Mock implements Notifier and Listener for tests. It records every send
// and can be told to fail sends to specific addresses.
type Mock struct {
	mu      sync.Mutex
	sent    []Message
	fail    map[string]error
	replies chan Reply
	nextID  int
}

// NewMock creates a Mock with a buffered reply channel.
func NewMock() *Mock {
	return &Mock{
		fail:    make(map[string]error),
		replies: make(chan Reply, 100),
	}
}

// Send records the message, or returns the configured failure for address.
func (m *Mock) Send(ctx context.Context, address, text string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[address]; ok {
		return Result{}, err
	}
	m.nextID++
	m.sent = append(m.sent, Message{Address: address, Text: text})
	return Result{MessageID: fmt.Sprintf("SM%04d", m.nextID)}, nil
}

// FailFor makes subsequent sends to address fail with err.
func (m *Mock) FailFor(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[address] = err
}

// Sent returns a copy of everything sent so far.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Message, len(m.sent))
	copy(cp, m.sent)
	return cp
}

// SentTo returns the texts sent to address, in order.
func (m *Mock) SentTo(address string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.Address == address {
			out = append(out, s.Text)
		}
	}
	return out
}

// Reset clears the recorded sends.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Listen returns the channel fed by SimulateReply.
func (m *Mock) Listen(ctx context.Context) (<-chan Reply, error) {
	return m.replies, nil
}

// SimulateReply queues an inbound reply.
func (m *Mock) SimulateReply(r Reply) {
	m.replies <- r
}

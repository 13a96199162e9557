package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Message is one artifact held by MemoryTransport.
type Message struct {
	ID          string
	Destination string
	Content     string
}

// MemoryTransport keeps messages in process. It backs local runs without a gateway and tests.
type MemoryTransport struct {
	mu       sync.Mutex
	messages map[string]Message
	seq      atomic.Int64

	// PostErr and RemoveErr, when set, are consulted before each call.
	PostErr   func(destination string) error
	RemoveErr func(destination, artifactID string) error

	posts   atomic.Int64
	removes atomic.Int64
}

// NewMemoryTransport creates an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{messages: make(map[string]Message)}
}

func (m *MemoryTransport) Post(ctx context.Context, destination, content string) (string, error) {
	m.posts.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.PostErr != nil {
		if err := m.PostErr(destination); err != nil {
			return "", err
		}
	}

	id := fmt.Sprintf("msg-%d", m.seq.Add(1))
	m.mu.Lock()
	m.messages[id] = Message{ID: id, Destination: destination, Content: content}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryTransport) Remove(ctx context.Context, destination, artifactID string) error {
	m.removes.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.RemoveErr != nil {
		if err := m.RemoveErr(destination, artifactID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.messages, artifactID)
	m.mu.Unlock()
	return nil
}

// Drop deletes a message out of band, the way a user or another bot would.
func (m *MemoryTransport) Drop(artifactID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[artifactID]; !ok {
		return false
	}
	delete(m.messages, artifactID)
	return true
}

// Get returns a live message.
func (m *MemoryTransport) Get(artifactID string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[artifactID]
	return msg, ok
}

// Len is the number of live messages.
func (m *MemoryTransport) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Calls reports how many Post and Remove calls were made, including failed ones.
func (m *MemoryTransport) Calls() (posts, removes int64) {
	return m.posts.Load(), m.removes.Load()
}

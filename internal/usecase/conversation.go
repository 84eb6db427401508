package usecase

import (
	"sync"
	"time"

	"agntschat/internal/domain"
)

// Conversation is the thread-safe message history of one chat.
type Conversation struct {
	mu        sync.RWMutex
	id        string
	msgs      []domain.Message
	createdAt time.Time
}

// NewConversation creates an empty conversation with a ULID id.
func NewConversation() *Conversation {
	return &Conversation{id: newID(), createdAt: time.Now()}
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Append adds a message, stamping it when Timestamp is zero.
func (c *Conversation) Append(msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.Message, len(c.msgs))
	copy(cp, c.msgs)
	return cp
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// Truncate keeps only the last n messages.
func (c *Conversation) Truncate(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || len(c.msgs) <= n {
		return
	}
	c.msgs = append([]domain.Message(nil), c.msgs[len(c.msgs)-n:]...)
}

// Reset clears the history and starts a new conversation id.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
	c.id = newID()
}

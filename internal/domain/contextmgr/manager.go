package contextmgr

import (
	"sync"

	"github.com/pocketportal/pocketportal/internal/domain/entity"
)

// DefaultMaxMessages bounds a chat history before FIFO eviction.
const DefaultMaxMessages = 50

// chatContext holds one chat's bounded history behind its own mutex so
// chats never contend with each other.
type chatContext struct {
	mu       sync.Mutex
	messages []entity.Message
}

// Manager keeps per-chat conversation history in memory.
type Manager struct {
	mu          sync.RWMutex
	chats       map[string]*chatContext
	maxMessages int
}

// NewManager creates a manager evicting oldest messages beyond
// maxMessages. maxMessages < 0 selects the default; 0 retains nothing.
func NewManager(maxMessages int) *Manager {
	if maxMessages < 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Manager{
		chats:       make(map[string]*chatContext),
		maxMessages: maxMessages,
	}
}

// Append adds a message to the chat's history, evicting from the
// oldest end once the bound is exceeded.
func (m *Manager) Append(chatID string, msg entity.Message) {
	if m.maxMessages == 0 {
		return
	}
	c := m.chat(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - m.maxMessages; over > 0 {
		c.messages = append([]entity.Message(nil), c.messages[over:]...)
	}
}

// History returns up to limit most recent messages in chronological
// order. limit <= 0 returns the full retained history.
func (m *Manager) History(chatID string, limit int) []entity.Message {
	m.mu.RLock()
	c, ok := m.chats[chatID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]entity.Message, n)
	copy(out, c.messages[len(c.messages)-n:])
	return out
}

// Clear drops the chat's history.
func (m *Manager) Clear(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
}

// Count returns the number of chats with retained history.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats)
}

func (m *Manager) chat(chatID string) *chatContext {
	m.mu.RLock()
	c, ok := m.chats[chatID]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[chatID]; ok {
		return c
	}
	c = &chatContext{}
	m.chats[chatID] = c
	return c
}

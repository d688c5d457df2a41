// Package concurrency supplies the per-conversation single flight the
// turn engine requires: nothing in the core prevents two concurrent
// assembly cycles against the same triggering chat, so callers serialize
// through this manager.
package concurrency

import "sync"

// ConversationLockManager serializes turn processing per conversation.
type ConversationLockManager struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewConversationLockManager() *ConversationLockManager {
	return &ConversationLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *ConversationLockManager) Lock(conversationID string) {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *ConversationLockManager) Unlock(conversationID string) {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	if ok {
		lock.Unlock()
	}
	m.mu.Unlock()
}

package utils

import "sync"

type keyedEntry struct {
	mu      sync.Mutex
	waiters int
}

// KeyedMutex serializes work per key. Entries are dropped once no goroutine
// holds or waits for them.
type KeyedMutex struct {
	edit    sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) Lock(key string) {
	m.edit.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{}
		m.entries[key] = entry
	}
	entry.waiters++
	m.edit.Unlock()

	entry.mu.Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	m.edit.Lock()
	defer m.edit.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		panic("unlock of unlocked key " + key)
	}

	entry.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(m.entries, key)
	}
}

func (m *KeyedMutex) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.entries)
}

// Package handle keeps the short-lived mapping from message id to the
// opaque reply capability captured at ingestion. Entries never survive a
// restart; every caller must handle absence as a normal condition and fall
// back to the owning integration's generic send path.
package handle

import (
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

// Cache is the process-wide reply handle table. Construct with New, pass by
// reference; Clear on session teardown.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]bus.ReplyHandle
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[int64]bus.ReplyHandle)}
}

// Save stores the handle for a message id, replacing any previous entry.
func (c *Cache) Save(messageID int64, h bus.ReplyHandle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.entries[messageID] = h
	c.mu.Unlock()
}

// Get returns the handle for a message id, if one is cached.
func (c *Cache) Get(messageID int64) (bus.ReplyHandle, bool) {
	c.mu.Lock()
	h, ok := c.entries[messageID]
	c.mu.Unlock()
	return h, ok
}

// Delete removes a consumed handle.
func (c *Cache) Delete(messageID int64) {
	c.mu.Lock()
	delete(c.entries, messageID)
	c.mu.Unlock()
}

// Clear drops every entry. Called on session teardown.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[int64]bus.ReplyHandle)
	c.mu.Unlock()
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return n
}

package contentstore

import (
	"strings"
	"sync"
	"time"

	"github.com/LindsayB610/yarny-app-sub005/internal/kv"
)

const lookupCacheKey = "sidecar_lookup_cache"

type cacheEntry struct {
	FileID    string    `json:"fileId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// lookupCache maps (contentID, parentFolderID) to a sidecar file id for a
// bounded time, sparing a remote folder listing on every access. Entries
// survive restarts through the kv backing store; persistence failures are
// ignored since the cache only saves work.
type lookupCache struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries map[string]cacheEntry
}

func newLookupCache(store kv.Store, ttl time.Duration) *lookupCache {
	return &lookupCache{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

func cacheKey(contentID, parentFolderID string) string {
	return contentID + "|" + parentFolderID
}

func (c *lookupCache) get(contentID, parentFolderID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	entry, ok := c.entries[cacheKey(contentID, parentFolderID)]
	if !ok {
		return "", false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, cacheKey(contentID, parentFolderID))
		c.persistLocked()
		return "", false
	}
	return entry.FileID, true
}

func (c *lookupCache) put(contentID, parentFolderID, fileID string) {
	if strings.TrimSpace(fileID) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	c.entries[cacheKey(contentID, parentFolderID)] = cacheEntry{
		FileID:    fileID,
		ExpiresAt: c.now().Add(c.ttl),
	}
	c.persistLocked()
}

func (c *lookupCache) invalidate(contentID, parentFolderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	delete(c.entries, cacheKey(contentID, parentFolderID))
	c.persistLocked()
}

func (c *lookupCache) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	var stored map[string]cacheEntry
	if err := kv.GetJSON(c.store, lookupCacheKey, &stored); err != nil || stored == nil {
		return
	}
	c.entries = stored
}

func (c *lookupCache) persistLocked() {
	_ = kv.PutJSON(c.store, lookupCacheKey, c.entries)
}

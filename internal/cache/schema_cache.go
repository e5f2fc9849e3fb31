// Package cache holds extracted form schemas per page URL so repeated
// submissions against the same page skip extraction.
package cache

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

type entry struct {
	forms  []schemas.FormSchema
	stored time.Time
}

// SchemaCache is safe for concurrent use. A zero TTL keeps entries until
// they are deleted or cleared.
type SchemaCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]entry
}

// New returns an empty cache.
func New(ttl time.Duration) *SchemaCache {
	return &SchemaCache{ttl: ttl, now: time.Now, items: make(map[string]entry)}
}

// Key normalizes a page URL: scheme and host lowercased, fragment and
// trailing slash dropped. Unparseable input is used as is.
func Key(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Get returns the schemas stored for pageURL, if present and fresh.
func (c *SchemaCache) Get(pageURL string) ([]schemas.FormSchema, bool) {
	k := Key(pageURL)
	c.mu.RLock()
	e, ok := c.items[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.mu.Lock()
		// Recheck under the write lock; a Put may have refreshed it.
		if cur, still := c.items[k]; still && c.expired(cur) {
			delete(c.items, k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return append([]schemas.FormSchema(nil), e.forms...), true
}

// Put stores forms for pageURL, replacing any previous entry.
func (c *SchemaCache) Put(pageURL string, forms []schemas.FormSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[Key(pageURL)] = entry{forms: append([]schemas.FormSchema(nil), forms...), stored: c.now()}
}

// Delete drops the entry for pageURL.
func (c *SchemaCache) Delete(pageURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, Key(pageURL))
}

// Clear drops every entry.
func (c *SchemaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
}

// Len reports the number of entries, expired ones included.
func (c *SchemaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *SchemaCache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.stored) > c.ttl
}

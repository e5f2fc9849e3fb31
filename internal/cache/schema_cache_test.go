package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

func forms(action string) []schemas.FormSchema {
	return []schemas.FormSchema{{Action: action, Fields: []schemas.FieldDescriptor{{Name: "email", Type: schemas.FieldEmail}}}}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "https://example.com/contact", Key("HTTPS://Example.COM/contact/#top"))
	assert.Equal(t, "https://example.com/contact?ref=a", Key("https://example.com/contact?ref=a"))
	assert.Equal(t, "not a url", Key(" not a url "))
}

func TestSchemaCache_PutGet(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get("https://example.com/contact")
	assert.False(t, ok)

	c.Put("https://example.com/contact/", forms("/send"))
	got, ok := c.Get("https://EXAMPLE.com/contact#form")
	require.True(t, ok)
	assert.Equal(t, "/send", got[0].Action)

	// The returned slice is a copy.
	got[0] = schemas.FormSchema{Action: "changed"}
	again, _ := c.Get("https://example.com/contact")
	assert.Equal(t, "/send", again[0].Action)
}

func TestSchemaCache_Expiry(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	c := New(30 * time.Minute)
	c.now = func() time.Time { return now }

	c.Put("https://example.com/a", forms("/a"))
	now = now.Add(29 * time.Minute)
	_, ok := c.Get("https://example.com/a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("https://example.com/a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entries are evicted on read")
}

func TestSchemaCache_NoTTL(t *testing.T) {
	now := time.Now()
	c := New(0)
	c.now = func() time.Time { return now }
	c.Put("https://example.com/a", forms("/a"))
	now = now.Add(1000 * time.Hour)
	_, ok := c.Get("https://example.com/a")
	assert.True(t, ok)
}

func TestSchemaCache_DeleteClear(t *testing.T) {
	c := New(time.Minute)
	c.Put("https://example.com/a", forms("/a"))
	c.Put("https://example.com/b", forms("/b"))

	c.Delete("https://example.com/a/")
	_, ok := c.Get("https://example.com/a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSchemaCache_Concurrent(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("https://example.com/%d", i%5)
			c.Put(u, forms(u))
			c.Get(u)
			if i%7 == 0 {
				c.Clear()
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 5)
}

package normalize

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the memo shared by matcher workers.
const DefaultCacheSize = 4096

// Cache memoizes Normalize. It is safe for concurrent use; a nil *Cache
// simply normalizes without memoization.
type Cache struct {
	entries *lru.Cache[string, string]
}

// NewCache creates a memo holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Normalize returns the canonical form of raw, consulting the memo first.
func (c *Cache) Normalize(raw string, placeholders []string) string {
	if c == nil {
		return Normalize(raw, placeholders)
	}
	key := raw
	if len(placeholders) > 0 {
		key = raw + "\x00" + strings.Join(placeholders, "\x00")
	}
	if v, ok := c.entries.Get(key); ok {
		return v
	}
	v := Normalize(raw, placeholders)
	c.entries.Add(key, v)
	return v
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

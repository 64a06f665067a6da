package document

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// urlCache remembers presigned URLs by object name. Entries expire after half
// the presign TTL, so a URL handed out always has at least that much validity
// left.
type urlCache struct {
	lru *expirable.LRU[string, string]
}

func newURLCache(size int, presignTTL time.Duration) *urlCache {
	if size <= 0 {
		return nil
	}
	return &urlCache{lru: expirable.NewLRU[string, string](size, nil, presignTTL/2)}
}

func (c *urlCache) get(objectName string) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.lru.Get(objectName)
}

func (c *urlCache) put(objectName, url string) {
	if c == nil {
		return
	}
	c.lru.Add(objectName, url)
}

func (c *urlCache) evict(objectName string) {
	if c == nil {
		return
	}
	c.lru.Remove(objectName)
}

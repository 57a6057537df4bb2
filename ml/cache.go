package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedExtractor memoises extraction results by content hash. Extraction is pure, so entries never go stale.
type CachedExtractor struct {
	inner FeatureExtractor
	cache *lru.Cache[string, FeatureVector]
}

// NewCachedExtractor wraps inner with an LRU of the given size.
func NewCachedExtractor(inner FeatureExtractor, size int) (*CachedExtractor, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, FeatureVector](size)
	if err != nil {
		return nil, err
	}
	return &CachedExtractor{inner: inner, cache: cache}, nil
}

func (c *CachedExtractor) Extract(html string) FeatureVector {
	key := ContentHash(html)
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v)
	}
	v := c.inner.Extract(html)
	c.cache.Add(key, slices.Clone(v))
	return v
}

// Len reports the number of cached entries.
func (c *CachedExtractor) Len() int {
	return c.cache.Len()
}

// ContentHash is the hex SHA-256 of html, used as cache key and log identifier.
func ContentHash(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}

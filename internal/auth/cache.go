package auth

import lru "github.com/hashicorp/golang-lru/v2"

// newCache returns a bounded LRU cache holding at least one entry.
func newCache[K comparable, V any](size int) *lru.Cache[K, V] {
	if size < 1 {
		size = 1
	}
	// lru.New only fails for a non-positive size.
	c, _ := lru.New[K, V](size)
	return c
}

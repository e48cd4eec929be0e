package watch

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/lru"
)

// SeenSet remembers recently handled transaction hashes. It is bounded; a hash
// that has been evicted is simply checked against the store again.
type SeenSet struct {
	mu    sync.Mutex
	cache lru.BasicLRU[string, struct{}]
}

// NewSeenSet creates a seen-set holding at most capacity hashes
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &SeenSet{cache: lru.NewBasicLRU[string, struct{}](capacity)}
}

// MarkSeen records hash and reports whether it was not seen before
func (s *SeenSet) MarkSeen(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Contains(hash) {
		return false
	}
	s.cache.Add(hash, struct{}{})
	return true
}

// Has reports whether hash is currently remembered
func (s *SeenSet) Has(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(hash)
}

// Remove forgets hash so a later delivery is handled again
func (s *SeenSet) Remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(hash)
}

// Len returns the number of remembered hashes
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

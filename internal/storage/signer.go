package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingSigner reuses a signed URL until half of its lifetime has passed,
// so re-deriving a row for an unchanged path yields the same URL.
type CachingSigner struct {
	next  Signer
	ttl   time.Duration
	cache *expirable.LRU[string, string]
}

func NewCachingSigner(next Signer, ttl time.Duration, size int) *CachingSigner {
	if size <= 0 {
		size = 4096
	}
	return &CachingSigner{
		next:  next,
		ttl:   ttl,
		cache: expirable.NewLRU[string, string](size, nil, ttl/2),
	}
}

// Sign ignores the per-call ttl in favour of the configured one so cached
// entries are interchangeable.
func (s *CachingSigner) Sign(ctx context.Context, path string, _ time.Duration) (string, error) {
	if u, ok := s.cache.Get(path); ok {
		return u, nil
	}
	u, err := s.next.Sign(ctx, path, s.ttl)
	if err != nil {
		return "", err
	}
	s.cache.Add(path, u)
	return u, nil
}

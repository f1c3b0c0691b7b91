package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbeddingService memoizes vectors by input text in an expirable LRU.
type CachedEmbeddingService struct {
	inner EmbeddingService
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbeddingService wraps inner with a cache of size entries that
// expire after ttl.
func NewCachedEmbeddingService(inner EmbeddingService, size int, ttl time.Duration) *CachedEmbeddingService {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedEmbeddingService{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (s *CachedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := s.cache.Get(text); ok {
		return vector, nil
	}
	vector, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, vector)
	return vector, nil
}

// EmbedBatch serves cached texts locally and forwards only the misses.
func (s *CachedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vector, ok := s.cache.Get(text); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := s.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(fetched), len(missing))
	}
	for j, vector := range fetched {
		vectors[missingIdx[j]] = vector
		s.cache.Add(missing[j], vector)
	}
	return vectors, nil
}

func (s *CachedEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}

// Len returns the number of cached vectors.
func (s *CachedEmbeddingService) Len() int {
	return s.cache.Len()
}

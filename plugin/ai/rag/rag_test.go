package rag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/store"
)

type fakeSearcher struct {
	rows  []*store.RetrievalRow
	err   error
	delay time.Duration
	calls atomic.Int32
	last  atomic.Pointer[store.HybridSearchOptions]
}

func (f *fakeSearcher) HybridSearch(ctx context.Context, opts *store.HybridSearchOptions) ([]*store.RetrievalRow, error) {
	f.calls.Add(1)
	f.last.Store(opts)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.rows, f.err
}

type fakeEntities struct {
	entities []*store.Entity
	err      error
}

func (f *fakeEntities) ListEntities(_ context.Context, find *store.FindEntities) ([]*store.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities, nil
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
func (failingEmbedder) Dimensions() int { return ai.DefaultDimensions }

type shortEmbedder struct{}

func (shortEmbedder) Embed(context.Context, string) ([]float32, error) { return make([]float32, 8), nil }
func (shortEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return [][]float32{make([]float32, 8)}, nil
}
func (shortEmbedder) Dimensions() int { return ai.DefaultDimensions }

func TestRetrieve_JoinsSearchAndEntities(t *testing.T) {
	searcher := &fakeSearcher{rows: []*store.RetrievalRow{
		{SourceID: "kw-1", SourceType: "keyword", Label: "wedding favors", Score: 0.8, OwnerScope: store.OwnerScopeGlobal},
	}}
	entities := &fakeEntities{entities: []*store.Entity{
		{ID: "wl-1", Type: store.EntityTypeWatchlist, Label: "my list", Summary: "12 keywords"},
	}}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, entities, RetrieverOptions{})

	result, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		Query:      "wedding trends",
		UserID:     "user-a",
		Capability: capability.MarketBrief,
		EntityRefs: []store.EntityRef{{Type: store.EntityTypeWatchlist, ID: "wl-1"}},
	})
	require.NoError(t, err)
	assert.False(t, result.SearchFailed)
	require.Len(t, result.Candidates, 2)

	entity := result.Candidates[0]
	assert.Equal(t, "wl-1", entity.SourceID)
	assert.Equal(t, float32(1.0), entity.Score)
	assert.Equal(t, store.OwnerScopeUser, entity.Scope)
	assert.Equal(t, "12 keywords", entity.Chunk)

	opts := searcher.last.Load()
	require.NotNil(t, opts)
	assert.Equal(t, DefaultLimit, opts.Limit)
	assert.Len(t, opts.Vector, ai.DefaultDimensions)
	strategy := GetStrategyConfig(capability.MarketBrief)
	assert.Equal(t, strategy.VectorWeight, opts.VectorWeight)
	assert.Equal(t, strategy.SourceTypes, opts.SourceTypes)
}

func TestRetrieve_EntityReplacesMatchingSearchRow(t *testing.T) {
	searcher := &fakeSearcher{rows: []*store.RetrievalRow{
		{SourceID: "kw-1", SourceType: "keyword", Label: "wedding favors", Score: 0.6, OwnerScope: store.OwnerScopeGlobal},
		{SourceID: "kw-2", SourceType: "keyword", Label: "wedding signs", Score: 0.5, OwnerScope: store.OwnerScopeGlobal},
		{SourceID: "kw-1", SourceType: "listing", Label: "favors listing", Score: 0.4, OwnerScope: store.OwnerScopeGlobal},
	}}
	entities := &fakeEntities{entities: []*store.Entity{
		{ID: "kw-1", Type: store.EntityTypeKeyword, Label: "wedding favors", Summary: "tracked keyword"},
	}}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, entities, RetrieverOptions{})

	result, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		Query:      "wedding favors",
		UserID:     "user-a",
		Capability: capability.KeywordExplanation,
		EntityRefs: []store.EntityRef{{Type: store.EntityTypeKeyword, ID: "kw-1"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)

	assert.Equal(t, "kw-1", result.Candidates[0].SourceID)
	assert.Equal(t, float32(1.0), result.Candidates[0].Score)
	assert.Equal(t, store.OwnerScopeUser, result.Candidates[0].Scope)
	assert.Equal(t, "kw-2", result.Candidates[1].SourceID)
	assert.Equal(t, "listing", result.Candidates[2].SourceType)
}

func TestRetrieve_LimitIsClamped(t *testing.T) {
	searcher := &fakeSearcher{}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, &fakeEntities{}, RetrieverOptions{})

	_, err := retriever.Retrieve(context.Background(), RetrieveRequest{Query: "q", UserID: "u", Capability: capability.GeneralChat, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, searcher.last.Load().Limit)
}

func TestRetrieve_SearchFailureIsNotFatal(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("search backend down")}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, &fakeEntities{}, RetrieverOptions{})

	result, err := retriever.Retrieve(context.Background(), RetrieveRequest{Query: "q", UserID: "u", Capability: capability.GeneralChat})
	require.NoError(t, err)
	assert.True(t, result.SearchFailed)
	assert.Empty(t, result.Candidates)
}

func TestRetrieve_SearchTimeoutIsNotFatal(t *testing.T) {
	searcher := &fakeSearcher{delay: time.Second}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, &fakeEntities{}, RetrieverOptions{SearchTimeout: 20 * time.Millisecond})

	result, err := retriever.Retrieve(context.Background(), RetrieveRequest{Query: "q", UserID: "u", Capability: capability.GeneralChat})
	require.NoError(t, err)
	assert.True(t, result.SearchFailed)
}

func TestRetrieve_EntityFailureKeepsSearchResults(t *testing.T) {
	searcher := &fakeSearcher{rows: []*store.RetrievalRow{{SourceID: "doc-1", SourceType: "doc", Score: 0.5, OwnerScope: store.OwnerScopeGlobal}}}
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), searcher, &fakeEntities{err: errors.New("boom")}, RetrieverOptions{})

	result, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		Query:      "q",
		UserID:     "u",
		Capability: capability.GeneralChat,
		EntityRefs: []store.EntityRef{{Type: store.EntityTypeKeyword, ID: "kw-1"}},
	})
	require.NoError(t, err)
	assert.True(t, result.EntityFetchFailed)
	assert.Equal(t, []string{"doc-1"}, SourceIDs(result.Candidates))
}

func TestRetrieve_EmbeddingFailureIsFatal(t *testing.T) {
	searcher := &fakeSearcher{}
	providerErr := fmt.Errorf("provider: %w", context.DeadlineExceeded)
	retriever := NewRetriever(failingEmbedder{err: providerErr}, searcher, &fakeEntities{}, RetrieverOptions{})

	_, err := retriever.Retrieve(context.Background(), RetrieveRequest{Query: "q", UserID: "u", Capability: capability.GeneralChat})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), searcher.calls.Load(), "search must not run without a vector")
}

func TestRetrieve_DimensionMismatchIsFatal(t *testing.T) {
	retriever := NewRetriever(shortEmbedder{}, &fakeSearcher{}, &fakeEntities{}, RetrieverOptions{})

	_, err := retriever.Retrieve(context.Background(), RetrieveRequest{Query: "q", UserID: "u", Capability: capability.GeneralChat})
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)
}

func TestFetchByIDs(t *testing.T) {
	retriever := NewRetriever(ai.NewHashEmbeddingService(0), &fakeSearcher{}, &fakeEntities{entities: []*store.Entity{{ID: "kw-1"}}}, RetrieverOptions{})

	entities, err := retriever.FetchByIDs(context.Background(), "u", nil)
	require.NoError(t, err)
	assert.Empty(t, entities)

	entities, err = retriever.FetchByIDs(context.Background(), "u", []store.EntityRef{{Type: store.EntityTypeKeyword, ID: "kw-1"}})
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestGetStrategyConfig(t *testing.T) {
	keyword := GetStrategyConfig(capability.KeywordExplanation)
	assert.Greater(t, keyword.TextWeight, keyword.VectorWeight)
	assert.Equal(t, []string{"keyword"}, keyword.SourceTypes)

	assert.Equal(t, []string{"alert"}, GetStrategyConfig(capability.AlertExplanation).SourceTypes)
	assert.Empty(t, GetStrategyConfig(capability.GeneralChat).SourceTypes)
	assert.Equal(t, GetStrategyConfig(capability.GeneralChat), GetStrategyConfig("unknown"))
}

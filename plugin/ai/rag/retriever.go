package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/plugin/ai/capability"
	"github.com/hrygo/marketsense/plugin/ai/metrics"
	"github.com/hrygo/marketsense/plugin/ai/timeout"
	"github.com/hrygo/marketsense/store"
)

const (
	// DefaultLimit caps hybrid search results when the request leaves it unset.
	DefaultLimit = 24
	// MaxLimit is the largest accepted search limit.
	MaxLimit = 100
)

// ErrEmbedding marks a failure to embed the query. Retrieval cannot
// proceed without a query vector.
var ErrEmbedding = errors.New("query embedding failed")

// Searcher runs the external hybrid search.
type Searcher interface {
	HybridSearch(ctx context.Context, opts *store.HybridSearchOptions) ([]*store.RetrievalRow, error)
}

// EntityFetcher looks up structured entities by reference.
type EntityFetcher interface {
	ListEntities(ctx context.Context, find *store.FindEntities) ([]*store.Entity, error)
}

// RetrieveRequest describes one retrieval pass.
type RetrieveRequest struct {
	Query       string
	UserID      string
	Capability  capability.Capability
	Marketplace string
	Language    string
	Limit       int
	EntityRefs  []store.EntityRef
}

// RetrieveResult is the joined, unranked candidate set.
type RetrieveResult struct {
	Candidates []Candidate
	// SearchFailed is set when hybrid search errored or timed out and
	// contributed nothing.
	SearchFailed      bool
	EntityFetchFailed bool
	Latency           time.Duration
}

// RetrieverOptions tunes a Retriever. Zero values take package defaults.
type RetrieverOptions struct {
	EmbeddingTimeout time.Duration
	SearchTimeout    time.Duration
	Metrics          metrics.Recorder
}

// Retriever embeds a query, then runs hybrid search and entity lookup
// concurrently and joins the results.
type Retriever struct {
	embedder ai.EmbeddingService
	searcher Searcher
	entities EntityFetcher

	embeddingTimeout time.Duration
	searchTimeout    time.Duration
	metrics          metrics.Recorder
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder ai.EmbeddingService, searcher Searcher, entities EntityFetcher, opts RetrieverOptions) *Retriever {
	r := &Retriever{
		embedder:         embedder,
		searcher:         searcher,
		entities:         entities,
		embeddingTimeout: opts.EmbeddingTimeout,
		searchTimeout:    opts.SearchTimeout,
		metrics:          opts.Metrics,
	}
	if r.embeddingTimeout <= 0 {
		r.embeddingTimeout = timeout.EmbeddingTimeout
	}
	if r.searchTimeout <= 0 {
		r.searchTimeout = timeout.SearchTimeout
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	return r
}

// Retrieve returns the candidates for req. Only embedding failures are
// returned as errors; they wrap both ErrEmbedding and the provider error.
// Search and entity failures degrade to empty partial results.
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()
	strategy := GetStrategyConfig(req.Capability)

	embedCtx, cancel := context.WithTimeout(ctx, r.embeddingTimeout)
	vector, err := r.embedder.Embed(embedCtx, req.Query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if err := ai.CheckDimensions(vector, r.embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	result := &RetrieveResult{}
	var rows []*store.RetrievalRow
	var entities []*store.Entity

	searchCtx, cancelSearch := context.WithTimeout(ctx, r.searchTimeout)
	defer cancelSearch()

	var g errgroup.Group
	g.Go(func() error {
		found, err := r.searcher.HybridSearch(searchCtx, &store.HybridSearchOptions{
			UserID:       req.UserID,
			Query:        req.Query,
			Vector:       vector,
			SourceTypes:  strategy.SourceTypes,
			Marketplace:  req.Marketplace,
			Language:     req.Language,
			VectorWeight: strategy.VectorWeight,
			TextWeight:   strategy.TextWeight,
			Limit:        clampLimit(req.Limit),
		})
		if err != nil {
			slog.Warn("hybrid search failed, continuing without search results",
				slog.String("user_id", req.UserID),
				slog.String("capability", string(req.Capability)),
				slog.String("error", err.Error()),
			)
			result.SearchFailed = true
			return nil
		}
		rows = found
		return nil
	})
	if len(req.EntityRefs) > 0 {
		g.Go(func() error {
			found, err := r.FetchByIDs(searchCtx, req.UserID, req.EntityRefs)
			if err != nil {
				slog.Warn("entity fetch failed, continuing without entities",
					slog.String("user_id", req.UserID),
					slog.Int("refs", len(req.EntityRefs)),
					slog.String("error", err.Error()),
				)
				result.EntityFetchFailed = true
				return nil
			}
			entities = found
			return nil
		})
	}
	// Both goroutines swallow their errors.
	_ = g.Wait()

	result.Candidates = joinCandidates(entities, rows)
	result.Latency = time.Since(start)

	slog.Debug("retrieval completed",
		slog.String("user_id", req.UserID),
		slog.String("capability", string(req.Capability)),
		slog.Int("search_results", len(rows)),
		slog.Int("entities", len(entities)),
		slog.Bool("search_failed", result.SearchFailed),
		slog.Int64("latency_ms", result.Latency.Milliseconds()),
	)
	r.metrics.RecordRetrieval(string(req.Capability), result.Latency, len(result.Candidates), result.SearchFailed)
	return result, nil
}

// joinCandidates merges explicit entities with search rows. A row naming the
// same source as an entity is dropped in favour of the entity.
func joinCandidates(entities []*store.Entity, rows []*store.RetrievalRow) []Candidate {
	type sourceKey struct{ sourceType, sourceID string }

	seen := make(map[sourceKey]struct{}, len(entities)+len(rows))
	candidates := make([]Candidate, 0, len(rows)+len(entities))
	add := func(c Candidate) {
		key := sourceKey{c.SourceType, c.SourceID}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, c)
	}
	for _, entity := range entities {
		add(candidateFromEntity(entity))
	}
	for _, row := range rows {
		add(candidateFromRow(row))
	}
	return candidates
}

// FetchByIDs returns the referenced entities visible to userID. It is used
// directly by callers that reference entities without free text.
func (r *Retriever) FetchByIDs(ctx context.Context, userID string, refs []store.EntityRef) ([]*store.Entity, error) {
	if len(refs) == 0 {
		return []*store.Entity{}, nil
	}
	entities, err := r.entities.ListEntities(ctx, &store.FindEntities{UserID: userID, Refs: refs})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch entities")
	}
	return entities, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

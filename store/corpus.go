package store

import "context"

// OwnerScope tells who a piece of evidence belongs to.
type OwnerScope string

const (
	OwnerScopeUser   OwnerScope = "user"
	OwnerScopeTeam   OwnerScope = "team"
	OwnerScopeGlobal OwnerScope = "global"
)

// IsValid reports whether s is one of the three known scopes.
func (s OwnerScope) IsValid() bool {
	switch s {
	case OwnerScopeUser, OwnerScopeTeam, OwnerScopeGlobal:
		return true
	}
	return false
}

// CorpusChunk is one searchable piece of the retrieval corpus.
// OwnerID is the user id for user scope, the team id for team scope and
// empty for global scope.
type CorpusChunk struct {
	ID          int64
	SourceID    string
	SourceType  string
	Label       string
	Chunk       string
	OwnerScope  OwnerScope
	OwnerID     string
	Marketplace string
	Language    string
	Metadata    map[string]any
	Embedding   []float32 // nil until the indexer has run
	CreatedTs   int64
	UpdatedTs   int64
}

type FindChunksWithoutEmbedding struct {
	Limit int
}

// HybridSearchOptions is the input of the hybrid search collaborator.
type HybridSearchOptions struct {
	UserID      string
	Query       string
	Vector      []float32
	SourceTypes []string // empty means every type
	Marketplace string
	Language    string
	// VectorWeight and TextWeight are blended into the combined score.
	VectorWeight float64
	TextWeight   float64
	Limit        int
}

// RetrievalRow is one ranked hybrid search result.
type RetrievalRow struct {
	SourceID   string
	SourceType string
	Label      string
	Chunk      string
	Score      float32 // combined score, 0-1
	OwnerScope OwnerScope
	Metadata   map[string]any
}

// TeamMember links a user to a team so team scoped rows become visible.
type TeamMember struct {
	TeamID string
	UserID string
}

func (s *Store) UpsertCorpusChunk(ctx context.Context, chunk *CorpusChunk) (*CorpusChunk, error) {
	return s.driver.UpsertCorpusChunk(ctx, chunk)
}

func (s *Store) FindChunksWithoutEmbedding(ctx context.Context, find *FindChunksWithoutEmbedding) ([]*CorpusChunk, error) {
	return s.driver.FindChunksWithoutEmbedding(ctx, find)
}

func (s *Store) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	return s.driver.UpdateChunkEmbedding(ctx, id, embedding)
}

func (s *Store) HybridSearch(ctx context.Context, opts *HybridSearchOptions) ([]*RetrievalRow, error) {
	return s.driver.HybridSearch(ctx, opts)
}

func (s *Store) UpsertTeamMember(ctx context.Context, member *TeamMember) error {
	return s.driver.UpsertTeamMember(ctx, member)
}

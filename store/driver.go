package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Thread model related methods.
	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error)
	GetThreadStats(ctx context.Context, threadID string) (*ThreadStats, error)

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) error

	// Corpus related methods.
	UpsertCorpusChunk(ctx context.Context, chunk *CorpusChunk) (*CorpusChunk, error)
	FindChunksWithoutEmbedding(ctx context.Context, find *FindChunksWithoutEmbedding) ([]*CorpusChunk, error)
	UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error
	UpsertTeamMember(ctx context.Context, member *TeamMember) error

	// HybridSearch ranks corpus chunks visible to opts.UserID by a blend of
	// vector similarity and full text relevance.
	HybridSearch(ctx context.Context, opts *HybridSearchOptions) ([]*RetrievalRow, error)

	// Entity model related methods.
	UpsertEntity(ctx context.Context, entity *Entity) (*Entity, error)
	ListEntities(ctx context.Context, find *FindEntities) ([]*Entity, error)

	// Training capture related methods.
	CreateTrainingRequest(ctx context.Context, create *TrainingRequest) (*TrainingRequest, error)
	CreateTrainingResponse(ctx context.Context, create *TrainingResponse) (*TrainingResponse, error)
	ListTrainingRequests(ctx context.Context, find *FindTrainingRequest) ([]*TrainingRequest, error)
	UpsertTrainingConsent(ctx context.Context, upsert *TrainingConsent) (*TrainingConsent, error)
	GetTrainingConsent(ctx context.Context, userID string) (*TrainingConsent, error)
}

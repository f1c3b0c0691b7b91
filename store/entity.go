package store

import "context"

type EntityType string

const (
	EntityTypeKeyword   EntityType = "keyword"
	EntityTypeWatchlist EntityType = "watchlist"
	EntityTypeListing   EntityType = "listing"
	EntityTypeAlert     EntityType = "alert"
	EntityTypeShop      EntityType = "shop"
	EntityTypeDoc       EntityType = "doc"
)

// Entity is a structured record a caller can reference explicitly by id.
// Entities with an empty UserID are shared with everyone.
type Entity struct {
	ID        string
	Type      EntityType
	UserID    string
	Label     string
	Summary   string
	Metadata  map[string]any
	CreatedTs int64
	UpdatedTs int64
}

type EntityRef struct {
	Type EntityType
	ID   string
}

type FindEntities struct {
	// UserID restricts results to entities owned by the user or shared.
	UserID string
	Refs   []EntityRef
}

func (s *Store) UpsertEntity(ctx context.Context, entity *Entity) (*Entity, error) {
	return s.driver.UpsertEntity(ctx, entity)
}

func (s *Store) ListEntities(ctx context.Context, find *FindEntities) ([]*Entity, error) {
	if len(find.Refs) == 0 {
		return []*Entity{}, nil
	}
	return s.driver.ListEntities(ctx, find)
}

package rag

import (
	"github.com/hrygo/marketsense/store"
)

// Candidate is one piece of retrieved evidence. Candidates are never
// persisted; assistant messages only keep their source ids.
type Candidate struct {
	SourceID   string
	SourceType string
	Label      string
	Chunk      string
	Score      float32
	Scope      store.OwnerScope
	Metadata   map[string]any
}

func candidateFromRow(row *store.RetrievalRow) Candidate {
	return Candidate{
		SourceID:   row.SourceID,
		SourceType: row.SourceType,
		Label:      row.Label,
		Chunk:      row.Chunk,
		Score:      row.Score,
		Scope:      row.OwnerScope,
		Metadata:   row.Metadata,
	}
}

// candidateFromEntity treats an explicitly requested entity as maximum
// confidence user evidence.
func candidateFromEntity(entity *store.Entity) Candidate {
	return Candidate{
		SourceID:   entity.ID,
		SourceType: string(entity.Type),
		Label:      entity.Label,
		Chunk:      entity.Summary,
		Score:      1.0,
		Scope:      store.OwnerScopeUser,
		Metadata:   entity.Metadata,
	}
}

// SourceIDs returns the source ids of candidates in order.
func SourceIDs(candidates []Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.SourceID)
	}
	return ids
}

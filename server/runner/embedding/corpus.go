package embedding

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/marketsense/store"
)

// CorpusFile is the YAML document accepted by the ingest command.
type CorpusFile struct {
	Chunks      []CorpusFileChunk  `yaml:"chunks"`
	Entities    []CorpusFileEntity `yaml:"entities"`
	TeamMembers []CorpusFileMember `yaml:"team_members"`
}

type CorpusFileChunk struct {
	SourceID    string         `yaml:"source_id"`
	SourceType  string         `yaml:"source_type"`
	Label       string         `yaml:"label"`
	Chunk       string         `yaml:"chunk"`
	OwnerScope  string         `yaml:"owner_scope"`
	OwnerID     string         `yaml:"owner_id"`
	Marketplace string         `yaml:"marketplace"`
	Language    string         `yaml:"language"`
	Metadata    map[string]any `yaml:"metadata"`
}

type CorpusFileMember struct {
	TeamID string `yaml:"team_id"`
	UserID string `yaml:"user_id"`
}

type CorpusFileEntity struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	UserID   string         `yaml:"user_id"`
	Label    string         `yaml:"label"`
	Summary  string         `yaml:"summary"`
	Metadata map[string]any `yaml:"metadata"`
}

// LoadCorpusFile reads and validates a corpus file.
func LoadCorpusFile(path string) (*CorpusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read corpus file")
	}
	file := &CorpusFile{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, errors.Wrap(err, "failed to parse corpus file")
	}
	for i, chunk := range file.Chunks {
		if chunk.SourceID == "" || chunk.SourceType == "" {
			return nil, errors.Errorf("chunk %d: source_id and source_type are required", i)
		}
		scope := store.OwnerScope(chunk.OwnerScope)
		if chunk.OwnerScope == "" {
			scope = store.OwnerScopeGlobal
		}
		if !scope.IsValid() {
			return nil, errors.Errorf("chunk %s: invalid owner_scope %q", chunk.SourceID, chunk.OwnerScope)
		}
		if scope != store.OwnerScopeGlobal && chunk.OwnerID == "" {
			return nil, errors.Errorf("chunk %s: owner_id is required for %s scope", chunk.SourceID, scope)
		}
		file.Chunks[i].OwnerScope = string(scope)
	}
	for _, entity := range file.Entities {
		if entity.ID == "" || entity.Type == "" {
			return nil, errors.New("entity id and type are required")
		}
	}
	return file, nil
}

// IngestStats counts what Ingest wrote.
type IngestStats struct {
	Chunks      int
	Entities    int
	TeamMembers int
}

// Ingest upserts the file contents. Chunks are stored without embeddings;
// the runner fills them in.
func Ingest(ctx context.Context, s *store.Store, file *CorpusFile) (*IngestStats, error) {
	now := time.Now().UnixMilli()
	stats := &IngestStats{}

	for _, c := range file.Chunks {
		_, err := s.UpsertCorpusChunk(ctx, &store.CorpusChunk{
			SourceID:    c.SourceID,
			SourceType:  c.SourceType,
			Label:       c.Label,
			Chunk:       c.Chunk,
			OwnerScope:  store.OwnerScope(c.OwnerScope),
			OwnerID:     c.OwnerID,
			Marketplace: c.Marketplace,
			Language:    c.Language,
			Metadata:    c.Metadata,
			CreatedTs:   now,
			UpdatedTs:   now,
		})
		if err != nil {
			return stats, err
		}
		stats.Chunks++
	}
	for _, e := range file.Entities {
		_, err := s.UpsertEntity(ctx, &store.Entity{
			ID:        e.ID,
			Type:      store.EntityType(e.Type),
			UserID:    e.UserID,
			Label:     e.Label,
			Summary:   e.Summary,
			Metadata:  e.Metadata,
			CreatedTs: now,
			UpdatedTs: now,
		})
		if err != nil {
			return stats, err
		}
		stats.Entities++
	}
	for _, member := range file.TeamMembers {
		if err := s.UpsertTeamMember(ctx, &store.TeamMember{TeamID: member.TeamID, UserID: member.UserID}); err != nil {
			return stats, err
		}
		stats.TeamMembers++
	}
	return stats, nil
}

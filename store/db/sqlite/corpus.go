package sqlite

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

func (d *DB) UpsertCorpusChunk(ctx context.Context, chunk *store.CorpusChunk) (*store.CorpusChunk, error) {
	metadata, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return nil, err
	}
	var embedding any
	if len(chunk.Embedding) > 0 {
		bytes, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal embedding")
		}
		embedding = string(bytes)
	}

	stmt := `
		INSERT INTO corpus_chunk (source_id, source_type, label, chunk, owner_scope, owner_id, marketplace, language, metadata, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (source_type, source_id)
		DO UPDATE SET
			label = excluded.label,
			chunk = excluded.chunk,
			owner_scope = excluded.owner_scope,
			owner_id = excluded.owner_id,
			marketplace = excluded.marketplace,
			language = excluded.language,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts
	`
	err = d.db.QueryRowContext(ctx, stmt,
		chunk.SourceID,
		chunk.SourceType,
		chunk.Label,
		chunk.Chunk,
		string(chunk.OwnerScope),
		chunk.OwnerID,
		chunk.Marketplace,
		chunk.Language,
		metadata,
		embedding,
		chunk.CreatedTs,
		chunk.UpdatedTs,
	).Scan(&chunk.ID, &chunk.CreatedTs, &chunk.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert corpus chunk")
	}
	return chunk, nil
}

func (d *DB) FindChunksWithoutEmbedding(ctx context.Context, find *store.FindChunksWithoutEmbedding) ([]*store.CorpusChunk, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, source_id, source_type, label, chunk, owner_scope, owner_id, marketplace, language, metadata, created_ts, updated_ts
		FROM corpus_chunk
		WHERE embedding IS NULL
		ORDER BY id ASC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find chunks without embedding")
	}
	defer rows.Close()

	list := []*store.CorpusChunk{}
	for rows.Next() {
		chunk := &store.CorpusChunk{}
		var ownerScope, metadata string
		if err := rows.Scan(
			&chunk.ID,
			&chunk.SourceID,
			&chunk.SourceType,
			&chunk.Label,
			&chunk.Chunk,
			&ownerScope,
			&chunk.OwnerID,
			&chunk.Marketplace,
			&chunk.Language,
			&metadata,
			&chunk.CreatedTs,
			&chunk.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan corpus chunk")
		}
		chunk.OwnerScope = store.OwnerScope(ownerScope)
		if chunk.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		list = append(list, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	bytes, err := json.Marshal(embedding)
	if err != nil {
		return errors.Wrap(err, "failed to marshal embedding")
	}
	result, err := d.db.ExecContext(ctx, `UPDATE corpus_chunk SET embedding = ?, updated_ts = ? WHERE id = ?`, string(bytes), time.Now().UnixMilli(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update chunk embedding")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("corpus chunk %d not found", id)
	}
	return nil
}

func (d *DB) UpsertTeamMember(ctx context.Context, member *store.TeamMember) error {
	if _, err := d.db.ExecContext(ctx, `INSERT INTO team_member (team_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, member.TeamID, member.UserID); err != nil {
		return errors.Wrap(err, "failed to upsert team member")
	}
	return nil
}

// HybridSearch filters visible rows in SQL and scores them in process:
// cosine similarity over the stored JSON vectors plus the share of query
// terms found in the label and chunk.
func (d *DB) HybridSearch(ctx context.Context, opts *store.HybridSearchOptions) ([]*store.RetrievalRow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 24
	}

	where := []string{
		`(owner_scope = 'global'
			OR (owner_scope = 'user' AND owner_id = ?)
			OR (owner_scope = 'team' AND owner_id IN (SELECT team_id FROM team_member WHERE user_id = ?)))`,
	}
	args := []any{opts.UserID, opts.UserID}
	if len(opts.SourceTypes) > 0 {
		where = append(where, "source_type IN ("+placeholders(len(opts.SourceTypes))+")")
		for _, sourceType := range opts.SourceTypes {
			args = append(args, sourceType)
		}
	}
	if opts.Marketplace != "" {
		where, args = append(where, "(marketplace = '' OR marketplace = ?)"), append(args, opts.Marketplace)
	}
	if opts.Language != "" {
		where, args = append(where, "(language = '' OR language = ?)"), append(args, opts.Language)
	}

	query := `SELECT source_id, source_type, label, chunk, owner_scope, metadata, embedding FROM corpus_chunk WHERE ` + strings.Join(where, " AND ")
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hybrid search")
	}
	defer rows.Close()

	queryTerms := terms(opts.Query)
	results := []*store.RetrievalRow{}
	for rows.Next() {
		row := &store.RetrievalRow{}
		var ownerScope, metadata string
		var embeddingJSON *string
		if err := rows.Scan(&row.SourceID, &row.SourceType, &row.Label, &row.Chunk, &ownerScope, &metadata, &embeddingJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan hybrid search result")
		}

		var vectorScore float64
		if embeddingJSON != nil && len(opts.Vector) > 0 {
			var embedding []float32
			if err := json.Unmarshal([]byte(*embeddingJSON), &embedding); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal embedding")
			}
			vectorScore = max(cosineSimilarity(opts.Vector, embedding), 0)
		}
		textScore := termOverlap(queryTerms, row.Label+" "+row.Chunk)
		score := opts.VectorWeight*vectorScore + opts.TextWeight*textScore
		if score <= 0 {
			continue
		}

		row.Score = float32(score)
		row.OwnerScope = store.OwnerScope(ownerScope)
		if row.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SourceID < results[j].SourceID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

// UpsertCorpusChunk inserts or replaces a chunk keyed by (source_type, source_id).
func (d *DB) UpsertCorpusChunk(ctx context.Context, chunk *store.CorpusChunk) (*store.CorpusChunk, error) {
	metadata, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return nil, err
	}
	var embedding any
	if len(chunk.Embedding) > 0 {
		embedding = pgvector.NewVector(chunk.Embedding)
	}

	stmt := `
		INSERT INTO corpus_chunk (source_id, source_type, label, chunk, owner_scope, owner_id, marketplace, language, metadata, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (source_type, source_id)
		DO UPDATE SET
			label = EXCLUDED.label,
			chunk = EXCLUDED.chunk,
			owner_scope = EXCLUDED.owner_scope,
			owner_id = EXCLUDED.owner_id,
			marketplace = EXCLUDED.marketplace,
			language = EXCLUDED.language,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
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

// FindChunksWithoutEmbedding lists chunks the indexer has not embedded yet.
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
		LIMIT ` + placeholder(1)

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find chunks without embedding")
	}
	defer rows.Close()

	list := []*store.CorpusChunk{}
	for rows.Next() {
		chunk := &store.CorpusChunk{}
		var ownerScope string
		var metadata []byte
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
	stmt := `UPDATE corpus_chunk SET embedding = ` + placeholder(1) + `, updated_ts = ` + placeholder(2) + ` WHERE id = ` + placeholder(3)
	result, err := d.db.ExecContext(ctx, stmt, pgvector.NewVector(embedding), time.Now().UnixMilli(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update chunk embedding")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("corpus chunk %d not found", id)
	}
	return nil
}

func (d *DB) UpsertTeamMember(ctx context.Context, member *store.TeamMember) error {
	stmt := `INSERT INTO team_member (team_id, user_id) VALUES (` + placeholders(2) + `) ON CONFLICT DO NOTHING`
	if _, err := d.db.ExecContext(ctx, stmt, member.TeamID, member.UserID); err != nil {
		return errors.Wrap(err, "failed to upsert team member")
	}
	return nil
}

// HybridSearch blends pgvector cosine similarity with ts_rank_cd in one
// statement. Normalization flag 32 maps the text rank into [0, 1).
func (d *DB) HybridSearch(ctx context.Context, opts *store.HybridSearchOptions) ([]*store.RetrievalRow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 24
	}

	args := []any{opts.Query, opts.TextWeight, opts.UserID}
	textScore := `ts_rank_cd(c.tsv, plainto_tsquery('simple', ` + placeholder(1) + `), 32)`
	vectorScore := `0`
	if len(opts.Vector) > 0 {
		args = append(args, pgvector.NewVector(opts.Vector), opts.VectorWeight)
		vectorScore = `COALESCE(1 - (c.embedding <=> ` + placeholder(4) + `), 0)`
		vectorScore = placeholder(5) + `::float8 * ` + vectorScore
	}

	where := []string{
		`(c.owner_scope = 'global'
			OR (c.owner_scope = 'user' AND c.owner_id = ` + placeholder(3) + `)
			OR (c.owner_scope = 'team' AND c.owner_id IN (SELECT team_id FROM team_member WHERE user_id = ` + placeholder(3) + `)))`,
	}
	if len(opts.SourceTypes) > 0 {
		where, args = append(where, "c.source_type = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(opts.SourceTypes))
	}
	if opts.Marketplace != "" {
		where, args = append(where, "(c.marketplace = '' OR c.marketplace = "+placeholder(len(args)+1)+")"), append(args, opts.Marketplace)
	}
	if opts.Language != "" {
		where, args = append(where, "(c.language = '' OR c.language = "+placeholder(len(args)+1)+")"), append(args, opts.Language)
	}
	args = append(args, limit)

	query := `
		SELECT * FROM (
			SELECT
				c.source_id, c.source_type, c.label, c.chunk, c.owner_scope, c.metadata,
				` + vectorScore + ` + ` + placeholder(2) + `::float8 * ` + textScore + ` AS score
			FROM corpus_chunk c
			WHERE ` + strings.Join(where, " AND ") + `
		) ranked
		WHERE score > 0
		ORDER BY score DESC, source_id ASC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hybrid search")
	}
	defer rows.Close()

	results := []*store.RetrievalRow{}
	for rows.Next() {
		row := &store.RetrievalRow{}
		var ownerScope string
		var metadata []byte
		var score float64
		if err := rows.Scan(&row.SourceID, &row.SourceType, &row.Label, &row.Chunk, &ownerScope, &metadata, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan hybrid search result")
		}
		row.OwnerScope = store.OwnerScope(ownerScope)
		row.Score = float32(score)
		if row.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

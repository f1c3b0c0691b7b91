package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

func (d *DB) UpsertEntity(ctx context.Context, entity *store.Entity) (*store.Entity, error) {
	metadata, err := marshalMetadata(entity.Metadata)
	if err != nil {
		return nil, err
	}
	stmt := `
		INSERT INTO entity (id, type, user_id, label, summary, metadata, created_ts, updated_ts)
		VALUES (` + placeholders(8) + `)
		ON CONFLICT (type, id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			label = EXCLUDED.label,
			summary = EXCLUDED.summary,
			metadata = EXCLUDED.metadata,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts
	`
	err = d.db.QueryRowContext(ctx, stmt,
		entity.ID, string(entity.Type), entity.UserID, entity.Label, entity.Summary, metadata, entity.CreatedTs, entity.UpdatedTs,
	).Scan(&entity.CreatedTs, &entity.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert entity")
	}
	return entity, nil
}

// ListEntities fetches the referenced entities that are shared or owned by find.UserID.
func (d *DB) ListEntities(ctx context.Context, find *store.FindEntities) ([]*store.Entity, error) {
	args := []any{find.UserID}
	refs := make([]string, 0, len(find.Refs))
	for _, ref := range find.Refs {
		refs = append(refs, "(type = "+placeholder(len(args)+1)+" AND id = "+placeholder(len(args)+2)+")")
		args = append(args, string(ref.Type), ref.ID)
	}
	if len(refs) == 0 {
		return []*store.Entity{}, nil
	}

	query := `
		SELECT id, type, user_id, label, summary, metadata, created_ts, updated_ts
		FROM entity
		WHERE (user_id = '' OR user_id = ` + placeholder(1) + `)
			AND (` + strings.Join(refs, " OR ") + `)
		ORDER BY type ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entities")
	}
	defer rows.Close()

	list := []*store.Entity{}
	for rows.Next() {
		entity := &store.Entity{}
		var entityType string
		var metadata []byte
		if err := rows.Scan(&entity.ID, &entityType, &entity.UserID, &entity.Label, &entity.Summary, &metadata, &entity.CreatedTs, &entity.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		entity.Type = store.EntityType(entityType)
		if entity.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		list = append(list, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

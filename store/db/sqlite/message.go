package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	generation, err := nullableJSON(create.Generation)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal generation metadata")
	}
	flags, err := nullableJSON(create.Flags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal flags")
	}
	var contextJSON any
	if create.Context != "" {
		contextJSON = create.Context
	}
	if create.RetrievedSourceIDs == nil {
		create.RetrievedSourceIDs = []string{}
	}
	sourceIDs, err := json.Marshal(create.RetrievedSourceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal retrieved source ids")
	}

	fields := []string{"id", "thread_id", "role", "content", "created_ts", "capability", "context_json", "model_id", "retrieved_source_ids", "generation_metadata", "flags", "training_eligible"}
	args := []any{create.ID, create.ThreadID, string(create.Role), create.Content, create.CreatedTs, create.Capability, contextJSON, create.ModelID, string(sourceIDs), generation, flags, create.TrainingEligible}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.ThreadID; v != nil {
		where, args = append(where, "thread_id = ?"), append(args, *v)
	}
	if find.ExcludeDeleted {
		where = append(where, "deleted_ts IS NULL")
	}

	order := "created_ts ASC, rowid ASC"
	if find.OrderDesc {
		order = "created_ts DESC, rowid DESC"
	}
	query := `SELECT id, thread_id, role, content, created_ts, capability, context_json, model_id, retrieved_source_ids, generation_metadata, flags, training_eligible, deleted_ts
		FROM message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	if find.Limit != nil {
		query, args = query+` LIMIT ?`, append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		message := &store.Message{}
		var role, sourceIDs string
		var contextJSON, generation, flags *string
		var deletedTs sql.NullInt64
		if err := rows.Scan(
			&message.ID,
			&message.ThreadID,
			&role,
			&message.Content,
			&message.CreatedTs,
			&message.Capability,
			&contextJSON,
			&message.ModelID,
			&sourceIDs,
			&generation,
			&flags,
			&message.TrainingEligible,
			&deletedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		message.Role = store.MessageRole(role)
		if contextJSON != nil {
			message.Context = *contextJSON
		}
		message.RetrievedSourceIDs = []string{}
		if sourceIDs != "" {
			if err := json.Unmarshal([]byte(sourceIDs), &message.RetrievedSourceIDs); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal retrieved source ids")
			}
		}
		if message.Generation, err = scanJSON[store.GenerationMetadata](generation); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal generation metadata")
		}
		if message.Flags, err = scanJSON[store.ResponseFlags](flags); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal flags")
		}
		if deletedTs.Valid {
			message.DeletedTs = &deletedTs.Int64
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return list, nil
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) error {
	set, args := []string{}, []any{}
	if v := update.DeletedTs; v != nil {
		set, args = append(set, "deleted_ts = ?"), append(args, *v)
	}
	if len(set) == 0 {
		return errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("message %s not found", update.ID)
	}
	return nil
}

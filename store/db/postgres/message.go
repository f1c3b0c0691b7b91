package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
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
	sourceIDs := create.RetrievedSourceIDs
	if sourceIDs == nil {
		sourceIDs = []string{}
	}

	fields := []string{"id", "thread_id", "role", "content", "created_ts", "capability", "context_json", "model_id", "retrieved_source_ids", "generation_metadata", "flags", "training_eligible"}
	args := []any{create.ID, create.ThreadID, string(create.Role), create.Content, create.CreatedTs, create.Capability, contextJSON, create.ModelID, pq.Array(sourceIDs), generation, flags, create.TrainingEligible}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	create.RetrievedSourceIDs = sourceIDs
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ThreadID != nil {
		where, args = append(where, "thread_id = "+placeholder(len(args)+1)), append(args, *find.ThreadID)
	}
	if find.ExcludeDeleted {
		where = append(where, "deleted_ts IS NULL")
	}

	order := "created_ts ASC, seq ASC"
	if find.OrderDesc {
		order = "created_ts DESC, seq DESC"
	}
	query := `SELECT id, thread_id, role, content, created_ts, capability, context_json, model_id, retrieved_source_ids, generation_metadata, flags, training_eligible, deleted_ts
		FROM message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	if find.Limit != nil {
		query, args = query+` LIMIT `+placeholder(len(args)+1), append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		message := &store.Message{}
		var role string
		var contextJSON, generation, flags []byte
		var sourceIDs []string
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
			pq.Array(&sourceIDs),
			&generation,
			&flags,
			&message.TrainingEligible,
			&deletedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		message.Role = store.MessageRole(role)
		message.Context = string(contextJSON)
		message.RetrievedSourceIDs = sourceIDs
		if message.RetrievedSourceIDs == nil {
			message.RetrievedSourceIDs = []string{}
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
	if update.DeletedTs != nil {
		set, args = append(set, "deleted_ts = "+placeholder(len(args)+1)), append(args, *update.DeletedTs)
	}
	if len(set) == 0 {
		return errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update message")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("message %s not found", update.ID)
	}
	return nil
}

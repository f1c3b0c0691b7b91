package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

const threadColumns = `id, user_id, title, created_ts, updated_ts, last_message_ts, message_count, metadata, archived`

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	metadata, err := marshalMetadata(create.Metadata)
	if err != nil {
		return nil, err
	}
	fields := []string{"id", "user_id", "title", "created_ts", "updated_ts", "last_message_ts", "message_count", "metadata", "archived"}
	args := []any{create.ID, create.UserID, create.Title, create.CreatedTs, create.UpdatedTs, create.LastMessageTs, create.MessageCount, metadata, create.Archived}

	stmt := `INSERT INTO thread (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create thread")
	}
	if create.Metadata == nil {
		create.Metadata = map[string]any{}
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Archived != nil {
		where, args = append(where, "archived = "+placeholder(len(args)+1)), append(args, *find.Archived)
	}

	query := `SELECT ` + threadColumns + ` FROM thread WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC, id ASC`
	if find.Limit != nil {
		query, args = query+` LIMIT `+placeholder(len(args)+1), append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list threads")
	}
	defer rows.Close()

	list := make([]*store.Thread, 0)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate threads")
	}
	return list, nil
}

func (d *DB) UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.ClearLastMessageTs {
		set = append(set, "last_message_ts = NULL")
	} else if update.LastMessageTs != nil {
		set, args = append(set, "last_message_ts = "+placeholder(len(args)+1)), append(args, *update.LastMessageTs)
	}
	if update.MessageCount != nil {
		set, args = append(set, "message_count = "+placeholder(len(args)+1)), append(args, *update.MessageCount)
	}
	if update.Archived != nil {
		set, args = append(set, "archived = "+placeholder(len(args)+1)), append(args, *update.Archived)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE thread SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + threadColumns
	thread, err := scanThread(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("thread %s not found", update.ID)
		}
		return nil, err
	}
	return thread, nil
}

func (d *DB) GetThreadStats(ctx context.Context, threadID string) (*store.ThreadStats, error) {
	query := `
		SELECT COUNT(*), MAX(created_ts)
		FROM (
			SELECT created_ts FROM message
			WHERE thread_id = ` + placeholder(1) + ` AND deleted_ts IS NULL
			ORDER BY created_ts DESC
			LIMIT ` + placeholder(2) + `
		) recent`

	var count int32
	var last sql.NullInt64
	if err := d.db.QueryRowContext(ctx, query, threadID, store.MaxStatsScan).Scan(&count, &last); err != nil {
		return nil, errors.Wrap(err, "failed to compute thread stats")
	}
	stats := &store.ThreadStats{MessageCount: count}
	if last.Valid {
		stats.LastMessageTs = &last.Int64
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*store.Thread, error) {
	thread := &store.Thread{}
	var title sql.NullString
	var lastMessageTs sql.NullInt64
	var metadata []byte
	if err := row.Scan(&thread.ID, &thread.UserID, &title, &thread.CreatedTs, &thread.UpdatedTs, &lastMessageTs, &thread.MessageCount, &metadata, &thread.Archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan thread")
	}
	if title.Valid {
		thread.Title = &title.String
	}
	if lastMessageTs.Valid {
		thread.LastMessageTs = &lastMessageTs.Int64
	}
	var err error
	if thread.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return thread, nil
}

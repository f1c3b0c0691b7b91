package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/marketsense/store"
)

func (d *DB) CreateTrainingRequest(ctx context.Context, create *store.TrainingRequest) (*store.TrainingRequest, error) {
	contextJSON := create.Context
	if contextJSON == "" {
		contextJSON = "{}"
	}
	fields := []string{"id", "user_id", "message_id", "capability", "market", "prompt", "context_json", "created_ts"}
	args := []any{create.ID, create.UserID, create.MessageID, create.Capability, create.Market, create.Prompt, contextJSON, create.CreatedTs}

	stmt := `INSERT INTO training_request (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create training request")
	}
	return create, nil
}

func (d *DB) CreateTrainingResponse(ctx context.Context, create *store.TrainingResponse) (*store.TrainingResponse, error) {
	fields := []string{"id", "request_id", "content", "tokens_in", "tokens_out", "created_ts"}
	args := []any{create.ID, create.RequestID, create.Content, create.TokensIn, create.TokensOut, create.CreatedTs}

	stmt := `INSERT INTO training_response (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create training response")
	}
	return create, nil
}

func (d *DB) ListTrainingRequests(ctx context.Context, find *store.FindTrainingRequest) ([]*store.TrainingRequest, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.MessageID != nil {
		where, args = append(where, "message_id = ?"), append(args, *find.MessageID)
	}

	query := `SELECT id, user_id, message_id, capability, market, prompt, context_json, created_ts
		FROM training_request WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list training requests")
	}
	defer rows.Close()

	list := []*store.TrainingRequest{}
	for rows.Next() {
		request := &store.TrainingRequest{}
		var contextJSON string
		if err := rows.Scan(&request.ID, &request.UserID, &request.MessageID, &request.Capability, &request.Market, &request.Prompt, &contextJSON, &request.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan training request")
		}
		request.Context = contextJSON
		list = append(list, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpsertTrainingConsent(ctx context.Context, upsert *store.TrainingConsent) (*store.TrainingConsent, error) {
	stmt := `
		INSERT INTO training_consent (user_id, opted_in, plan, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (user_id)
		DO UPDATE SET opted_in = excluded.opted_in, plan = excluded.plan, updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.UserID, upsert.OptedIn, upsert.Plan, upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert training consent")
	}
	return upsert, nil
}

func (d *DB) GetTrainingConsent(ctx context.Context, userID string) (*store.TrainingConsent, error) {
	consent := &store.TrainingConsent{}
	err := d.db.QueryRowContext(ctx, `SELECT user_id, opted_in, plan, updated_ts FROM training_consent WHERE user_id = ?`, userID).
		Scan(&consent.UserID, &consent.OptedIn, &consent.Plan, &consent.UpdatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get training consent")
	}
	return consent, nil
}

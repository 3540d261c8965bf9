package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

// AwaySessionRepository stores presence sessions. Every transition is a single
// conditional statement so concurrent callers cannot create a second open
// session or lose an appended message.
type AwaySessionRepository interface {
	// Open creates a session unless one is already open. It returns nil
	// without error when a session was already open.
	Open(ctx context.Context, userID string) (*model.AwaySession, error)
	// Close ends the open session. It returns nil without error when no
	// session was open.
	Close(ctx context.Context, userID string) (*model.AwaySession, error)
	// AppendMessage logs a message to the open session. It returns nil
	// without error when no session is open.
	AppendMessage(ctx context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error)
	FindByUserID(ctx context.Context, userID string) ([]model.AwaySession, error)
	FindMessagesBySessionIDs(ctx context.Context, sessionIDs []string) ([]model.AwayMessage, error)
	WithTx(tx *sqlx.Tx) AwaySessionRepository
}

type awaySessionRepo struct {
	db sqlxDB
}

func NewAwaySessionRepository(db *sqlx.DB) AwaySessionRepository {
	return &awaySessionRepo{db: db}
}

func (r *awaySessionRepo) WithTx(tx *sqlx.Tx) AwaySessionRepository {
	return &awaySessionRepo{db: tx}
}

func (r *awaySessionRepo) Open(ctx context.Context, userID string) (*model.AwaySession, error) {
	var session model.AwaySession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO away_sessions (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) WHERE end_time IS NULL DO NOTHING
		RETURNING *
	`, userID)
	return HandleNotFound(&session, err)
}

func (r *awaySessionRepo) Close(ctx context.Context, userID string) (*model.AwaySession, error) {
	var session model.AwaySession
	err := r.db.GetContext(ctx, &session, `
		UPDATE away_sessions SET end_time = NOW()
		WHERE user_id = $1 AND end_time IS NULL
		RETURNING *
	`, userID)
	return HandleNotFound(&session, err)
}

func (r *awaySessionRepo) AppendMessage(ctx context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error) {
	var msg model.AwayMessage
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO away_messages (session_id, sender_id, sender_name, content)
		SELECT id, $2::text, $3::text, $4::text
		FROM away_sessions
		WHERE user_id = $1 AND end_time IS NULL
		RETURNING *
	`, params.UserID, params.SenderID, params.SenderName, params.Content)
	return HandleNotFound(&msg, err)
}

func (r *awaySessionRepo) FindByUserID(ctx context.Context, userID string) ([]model.AwaySession, error) {
	var sessions []model.AwaySession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM away_sessions
		WHERE user_id = $1
		ORDER BY start_time ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *awaySessionRepo) FindMessagesBySessionIDs(ctx context.Context, sessionIDs []string) ([]model.AwayMessage, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var messages []model.AwayMessage
	err := r.db.SelectContext(ctx, &messages, `
		SELECT * FROM away_messages
		WHERE session_id = ANY($1::uuid[])
		ORDER BY received_at ASC, id ASC
	`, pq.Array(sessionIDs))
	if err != nil {
		return nil, err
	}
	return messages, nil
}

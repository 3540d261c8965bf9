package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
	FindByVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
	// Create returns nil without error when the user id or email is taken.
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*model.User, error)
	MarkEmailVerified(ctx context.Context, userID string) (*model.User, error)
	SaveProfile(ctx context.Context, userID string, profile model.Profile) (*model.User, error)
	MergeProfile(ctx context.Context, userID string, patch json.RawMessage) (*model.User, error)
	SetMode(ctx context.Context, userID string, mode model.Mode) (*model.User, error)
	SetAway(ctx context.Context, userID string, away bool) (*model.User, error)
	SetPlan(ctx context.Context, userID string, plan model.Plan, txHash *string) (*model.User, error)
	IncrementCounter(ctx context.Context, userID string, counter model.Counter) (*model.User, error)
	ClearExpiredVerificationTokens(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE user_id = $1
	`, userID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByVerificationTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users
		WHERE verification_token_hash = $1 AND verification_expires_at > NOW()
	`, tokenHash)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (user_id, email, password_hash, email_verified, verification_token_hash, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING *
	`, params.UserID, params.Email, params.PasswordHash, params.EmailVerified,
		params.VerificationTokenHash, params.VerificationExpiresAt)
	return HandleNotFound(&user, err)
}

func (r *userRepo) SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET
			verification_token_hash = $2,
			verification_expires_at = $3,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, tokenHash, expiresAt)
	return HandleNotFound(&user, err)
}

func (r *userRepo) MarkEmailVerified(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET
			email_verified = TRUE,
			verification_token_hash = NULL,
			verification_expires_at = NULL,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) SaveProfile(ctx context.Context, userID string, profile model.Profile) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET profile = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, profile)
	return HandleNotFound(&user, err)
}

func (r *userRepo) MergeProfile(ctx context.Context, userID string, patch json.RawMessage) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET profile = profile || $2::jsonb, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, string(patch))
	return HandleNotFound(&user, err)
}

func (r *userRepo) SetMode(ctx context.Context, userID string, mode model.Mode) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET mode = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, mode)
	return HandleNotFound(&user, err)
}

func (r *userRepo) SetAway(ctx context.Context, userID string, away bool) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET away = $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, away)
	return HandleNotFound(&user, err)
}

func (r *userRepo) SetPlan(ctx context.Context, userID string, plan model.Plan, txHash *string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET
			plan = $2,
			tx_hash = $3,
			subscribed_at = NOW(),
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, plan, txHash)
	return HandleNotFound(&user, err)
}

func (r *userRepo) IncrementCounter(ctx context.Context, userID string, counter model.Counter) (*model.User, error) {
	column, ok := counter.Column()
	if !ok {
		return nil, fmt.Errorf("unknown counter %q", counter)
	}

	var user model.User
	err := r.db.GetContext(ctx, &user, fmt.Sprintf(`
		UPDATE users SET %[1]s = %[1]s + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, column), userID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) ClearExpiredVerificationTokens(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			verification_token_hash = NULL,
			verification_expires_at = NULL
		WHERE verification_expires_at IS NOT NULL AND verification_expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

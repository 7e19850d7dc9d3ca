package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

// PostgresPasswordResetRepo はPostgreSQLを使用したパスワードリセットトークンリポジトリ。
type PostgresPasswordResetRepo struct {
	db *sql.DB
}

// NewPostgresPasswordResetRepo はPostgresPasswordResetRepoを生成する。
func NewPostgresPasswordResetRepo(db *sql.DB) *PostgresPasswordResetRepo {
	return &PostgresPasswordResetRepo{db: db}
}

// Create はリセットトークンを作成する。同一ユーザーの既存トークンは置き換える。
func (r *PostgresPasswordResetRepo) Create(ctx context.Context, reset *model.PasswordReset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_resets (user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET token_hash = EXCLUDED.token_hash,
		     expires_at = EXCLUDED.expires_at,
		     created_at = EXCLUDED.created_at`,
		reset.UserID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create password reset: %w", err)
	}
	return nil
}

// Consume はトークンハッシュに一致するトークンを削除して返す。見つからない場合はnilを返す。
func (r *PostgresPasswordResetRepo) Consume(ctx context.Context, tokenHash string) (*model.PasswordReset, error) {
	reset := &model.PasswordReset{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM password_resets
		 WHERE token_hash = $1
		 RETURNING token_hash, user_id, expires_at, created_at`,
		tokenHash,
	).Scan(&reset.TokenHash, &reset.UserID, &reset.ExpiresAt, &reset.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume password reset: %w", err)
	}

	return reset, nil
}

// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
func (r *PostgresPasswordResetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_resets WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired password resets: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ PasswordResetRepository = (*PostgresPasswordResetRepo)(nil)

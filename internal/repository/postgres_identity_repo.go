package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/expensetracker/internal/model"
)

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, secret_hash, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID,
		&identity.SecretHash, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return identity, nil
}

// ListByUserID はユーザーに紐づくidentityを作成順に返す。
func (r *PostgresIdentityRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, secret_hash, created_at
		 FROM identities
		 WHERE user_id = $1
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity := &model.Identity{}
		if err := rows.Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID,
			&identity.SecretHash, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}

	return identities, nil
}

// Create はidentityを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	return insertIdentity(ctx, r.db, identity)
}

// UpdateSecretHash はユーザーの指定方式のidentityの秘密情報ハッシュを更新する。
func (r *PostgresIdentityRepo) UpdateSecretHash(ctx context.Context, userID, provider, secretHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET secret_hash = $3 WHERE user_id = $1 AND provider = $2`,
		userID, provider, secretHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update secret hash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: user_id=%s provider=%s", userID, provider)
	}
	return nil
}

// insertIdentity はidentityをINSERTする。トランザクション内でも利用する。
func insertIdentity(ctx context.Context, db execer, identity *model.Identity) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, secret_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID,
		identity.SecretHash, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)

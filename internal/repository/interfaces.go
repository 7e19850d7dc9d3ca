// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository はサインイン方式の紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐づくidentityを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateSecretHash はユーザーの指定方式のidentityの秘密情報ハッシュを更新する。
	// 該当するidentityがない場合はエラーを返す。
	UpdateSecretHash(ctx context.Context, userID, provider, secretHash string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID はユーザーの全セッションを削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasswordResetRepository はパスワードリセットトークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create はリセットトークンを作成する。同一ユーザーの未使用トークンは置き換える。
	Create(ctx context.Context, reset *model.PasswordReset) error
	// Consume はトークンハッシュに一致するトークンを削除して返す。見つからない場合はnilを返す。
	// 削除と取得は1文で行うため、同じトークンを消費できるのは1回のみ。期限の判定は呼び出し側で行う。
	Consume(ctx context.Context, tokenHash string) (*model.PasswordReset, error)
	// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

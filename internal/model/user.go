// Package model はドメインモデルを定義する。
package model

import "time"

// サインイン方式（identities.provider の値）。
const (
	SignInMethodPassword = "password"
	SignInMethodGoogle   = "google.com"
)

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はユーザーとサインイン方式の紐付け情報を表す。
// パスワード方式の場合はProviderUserIDにメールアドレス、SecretHashにパスワードハッシュを保持する。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	SecretHash     string
	CreatedAt      time.Time
}

// Session はIdPが発行したログインセッションを表す。
// IdP以外のコンポーネントは読み取り専用の参照としてのみ扱う。
type Session struct {
	ID        string // 不透明なセッショントークン
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordReset はパスワードリセット用のワンタイムトークンを表す。
// トークン本体は保存せず、ハッシュのみを保持する。
type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

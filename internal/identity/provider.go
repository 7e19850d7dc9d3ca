// Package identity はIdP（Identity Session Provider）の契約と、
// PostgreSQL上に構築したローカル実装を提供する。
//
// コアはProviderインターフェースのみに依存し、IdPを不透明な機能集合として扱う。
package identity

import (
	"context"
	"fmt"

	"github.com/hitoshi/expensetracker/internal/model"
)

// IdPのエラーコード。
const (
	CodeEmailAlreadyInUse                    = "auth/email-already-in-use"
	CodeInvalidLoginCredentials              = "auth/invalid-login-credentials"
	CodeWrongPassword                        = "auth/wrong-password"
	CodeUserNotFound                         = "auth/user-not-found"
	CodePopupClosedByUser                    = "auth/popup-closed-by-user"
	CodeCredentialAlreadyInUse               = "auth/credential-already-in-use"
	CodeWeakPassword                         = "auth/weak-password"
	CodeInvalidEmail                         = "auth/invalid-email"
	CodeAccountExistsWithDifferentCredential = "auth/account-exists-with-different-credential"
	CodeProviderAlreadyLinked                = "auth/provider-already-linked"
	CodeNoCurrentUser                        = "auth/no-current-user"
	CodeInvalidActionCode                    = "auth/invalid-action-code"
	CodeExpiredActionCode                    = "auth/expired-action-code"
)

// Error はIdPが返すコード付きのエラー。
type Error struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newError はErrorを生成する。
func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Grant はサードパーティ認証（ポップアップ）の完了結果を表す。
// OAuthコールバックで受け取った認可コード、またはユーザーによるキャンセルを保持する。
type Grant struct {
	Code      string
	Cancelled bool
}

// SessionListener はセッション有無の変化を受け取るコールバック。nilはセッションなしを表す。
type SessionListener func(session *model.Session)

// Provider はコアが利用するIdPの契約。
// ネットワークを伴う操作はすべてcontextを受け取る。
type Provider interface {
	// ObserveSession はセッション変化の購読を開始する。
	// 最初のコールバックは非同期に届き、以降はIdPが発行した順に配送される。
	// 返り値の関数を呼ぶと配送を停止する。
	ObserveSession(listener SessionListener) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	CreateAccountWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithThirdParty(ctx context.Context, grant Grant) (*model.Session, error)
	LinkThirdParty(ctx context.Context, current *model.Session, grant Grant) (*model.Session, error)

	// ListSignInMethods はメールアドレスに登録済みのサインイン方式を返す。
	ListSignInMethods(ctx context.Context, email string) ([]string, error)
	SendPasswordReset(ctx context.Context, email string) error
	// ConfirmPasswordReset はリセットリンクのトークンを消費してパスワードを更新する。
	// 成功するとそのユーザーの既存セッションはすべて無効になる。
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	EndSession(ctx context.Context) error
}

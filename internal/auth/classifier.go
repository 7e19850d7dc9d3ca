// Package auth はIdPエラーの分類と、サインイン・サインアップ・リセット・
// サードパーティ認証・アカウント紐付けの各フローを提供する。
package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/expensetracker/internal/identity"
)

// Category はユーザー向けエラーカテゴリ。閉じた列挙として扱う。
type Category string

const (
	CategoryEmailInUse         Category = "EMAIL_IN_USE"
	CategoryInvalidCredentials Category = "INVALID_CREDENTIALS"
	CategoryUserNotFound       Category = "USER_NOT_FOUND"
	CategoryPopupCancelled     Category = "POPUP_CANCELLED"
	CategoryCredentialInUse    Category = "CREDENTIAL_IN_USE"
	CategoryNoPasswordAccount  Category = "NO_PASSWORD_ACCOUNT"
	CategoryPreconditionFailed Category = "PRECONDITION_FAILED"
	CategoryUnexpected         Category = "UNEXPECTED"
)

// fallbackMessage はIdP由来でないエラー、またはメッセージのないエラーに使う文言。
const fallbackMessage = "予期しないエラーが発生しました。もう一度お試しください。"

// ClassifiedError はIdPのエラーをユーザー向けカテゴリに分類したもの。
// IdPの生のエラーコードは保持しない。
type ClassifiedError struct {
	Category Category
	Message  string
	Action   string
}

// Error はerrorインターフェースを実装する。
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

// Is はカテゴリが一致するClassifiedErrorを同一とみなす。
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t.Category == e.Category
}

// センチネル。errors.Isでカテゴリ判定に使う。
var (
	ErrEmailInUse         = &ClassifiedError{Category: CategoryEmailInUse}
	ErrInvalidCredentials = &ClassifiedError{Category: CategoryInvalidCredentials}
	ErrUserNotFound       = &ClassifiedError{Category: CategoryUserNotFound}
	ErrPopupCancelled     = &ClassifiedError{Category: CategoryPopupCancelled}
	ErrCredentialInUse    = &ClassifiedError{Category: CategoryCredentialInUse}
	ErrNoPasswordAccount  = &ClassifiedError{Category: CategoryNoPasswordAccount}
	ErrPreconditionFailed = &ClassifiedError{Category: CategoryPreconditionFailed}
	ErrUnexpected         = &ClassifiedError{Category: CategoryUnexpected}
)

// classification はエラーコードごとの分類結果。
type classification struct {
	category Category
	message  string
	action   string
}

// classificationTable はIdPエラーコードから分類への固定テーブル。
var classificationTable = map[string]classification{
	identity.CodeEmailAlreadyInUse: {
		category: CategoryEmailInUse,
		message:  "このメールアドレスのアカウントは既に存在します。",
		action:   "サインインするか、パスワードをリセットしてください。",
	},
	identity.CodeInvalidLoginCredentials: {
		category: CategoryInvalidCredentials,
		message:  "メールアドレスまたはパスワードが正しくありません。",
		action:   "入力内容を確認して再度お試しください。",
	},
	identity.CodeWrongPassword: {
		category: CategoryInvalidCredentials,
		message:  "パスワードが正しくありません。",
		action:   "再度お試しいただくか、パスワードをリセットしてください。",
	},
	identity.CodeUserNotFound: {
		category: CategoryUserNotFound,
		message:  "このメールアドレスのアカウントが見つかりません。",
		action:   "メールアドレスを確認するか、新しいアカウントを作成してください。",
	},
	identity.CodePopupClosedByUser: {
		category: CategoryPopupCancelled,
		message:  "Googleでのサインインがキャンセルされました。",
		action:   "続行するには再度Googleでサインインしてください。",
	},
	identity.CodeCredentialAlreadyInUse: {
		category: CategoryCredentialInUse,
		message:  "そのGoogleアカウントは既に別のユーザーに紐付けられています。",
		action:   "別のGoogleアカウントを選択してください。",
	},
	identity.CodeInvalidActionCode: {
		category: CategoryPreconditionFailed,
		message:  "パスワードリセットのリンクが無効か、既に使用されています。",
		action:   "パスワードリセットをもう一度申請してください。",
	},
	identity.CodeExpiredActionCode: {
		category: CategoryPreconditionFailed,
		message:  "パスワードリセットのリンクの有効期限が切れています。",
		action:   "パスワードリセットをもう一度申請してください。",
	},
}

// Classify はエラーをClassifiedErrorに変換する。副作用はなく、nil以外の値を必ず返す。
//
// テーブルにないIdPのコードはUnexpectedに分類し、IdPのメッセージがあればそれを使う。
// IdP由来でないエラーは固定の文言でUnexpectedに分類する。
func Classify(err error) *ClassifiedError {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var providerErr *identity.Error
	if !errors.As(err, &providerErr) || providerErr == nil {
		return newUnexpected(fallbackMessage)
	}

	if c, ok := classificationTable[providerErr.Code]; ok {
		return &ClassifiedError{
			Category: c.category,
			Message:  c.message,
			Action:   c.action,
		}
	}

	if providerErr.Message != "" {
		return newUnexpected(providerErr.Message)
	}
	return newUnexpected(fallbackMessage)
}

func newUnexpected(message string) *ClassifiedError {
	return &ClassifiedError{
		Category: CategoryUnexpected,
		Message:  message,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// newNoPasswordAccountError はパスワード方式が未登録の場合のエラーを生成する。
func newNoPasswordAccountError() *ClassifiedError {
	return &ClassifiedError{
		Category: CategoryNoPasswordAccount,
		Message:  "このメールアドレスにはパスワードでサインインするアカウントがありません。",
		Action:   "Googleでサインインしてください。",
	}
}

// newPreconditionFailedError はアカウント紐付けにセッションがない場合のエラーを生成する。
func newPreconditionFailedError() *ClassifiedError {
	return &ClassifiedError{
		Category: CategoryPreconditionFailed,
		Message:  "Googleを紐付けるには、先にメールアドレスでサインインしてください。",
		Action:   "サインインしてから再度お試しください。",
	}
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ledger, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ローカル検証エラーのコード。IdPのエラー分類とは独立している。
const (
	ErrCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrCodeEmptyRequiredField = "EMPTY_REQUIRED_FIELD"
	ErrCodeSessionRequired    = "SESSION_REQUIRED"
)

// ValidationError は入力値のローカル検証エラーを表す。
// エラー分類器を経由せず、そのまま呼び出し元に返される。
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// APIError はHTTPレスポンス用の統一フォーマットに変換する。
func (e *ValidationError) APIError() *APIError {
	action := "入力内容を確認してください。"
	if e.Code == ErrCodeSessionRequired {
		action = "ログインしてから再度お試しください。"
	}
	return &APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: "validation",
		Action:   action,
	}
}

// NewInvalidAmountError は金額が正の有限数でない場合のエラーを生成する。
func NewInvalidAmountError() *ValidationError {
	return &ValidationError{
		Code:    ErrCodeInvalidAmount,
		Field:   "amount",
		Message: "金額は正の数値で入力してください。",
	}
}

// NewEmptyRequiredFieldError は必須項目が空の場合のエラーを生成する。
func NewEmptyRequiredFieldError(fields ...string) *ValidationError {
	msg := "必須項目が入力されていません。"
	field := ""
	if len(fields) == 1 {
		field = fields[0]
	}
	if len(fields) > 1 {
		msg = "メールアドレスとパスワードの両方が必要です。"
	}
	return &ValidationError{
		Code:    ErrCodeEmptyRequiredField,
		Field:   field,
		Message: msg,
	}
}

// NewSessionRequiredError はセッションなしで支出を登録しようとした場合のエラーを生成する。
func NewSessionRequiredError() *ValidationError {
	return &ValidationError{
		Code:    ErrCodeSessionRequired,
		Message: "支出を登録するにはサインインが必要です。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSessionPendingError はセッション状態がまだ確定していない場合のエラーを生成する。
func NewSessionPendingError() *APIError {
	return &APIError{
		Code:     "SESSION_PENDING",
		Message:  "セッションを確認しています。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOperationInFlightError は同じ操作が実行中の場合のエラーを生成する。
func NewOperationInFlightError(operation string) *APIError {
	return &APIError{
		Code:     "OPERATION_IN_FLIGHT",
		Message:  fmt.Sprintf("同じ操作を処理中です: %s", operation),
		Category: "auth",
		Action:   "処理の完了を待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

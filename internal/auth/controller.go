package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/model"
)

// Operation は認証フローの種別。
type Operation string

const (
	OpSignIn          Operation = "sign_in"
	OpSignUp          Operation = "sign_up"
	OpSignInWithPopup Operation = "sign_in_with_popup"
	OpLinkPopup       Operation = "link_popup"
	OpResetPassword   Operation = "reset_password"
	OpConfirmReset    Operation = "confirm_reset"
)

// 成功時のステータスメッセージ。
const (
	StatusSignedIn       = "サインインしました。"
	StatusAccountCreated = "アカウントを作成しました。サインイン済みです。"
	StatusPopupSignedIn  = "Googleでサインインしました。"
	StatusLinked         = "Googleアカウントをこのユーザーに紐付けました。"
	StatusResetSent      = "パスワードリセット用のリンクを送信しました。受信トレイを確認してください。"
	StatusPasswordReset  = "パスワードを更新しました。新しいパスワードでサインインしてください。"
)

// SessionSource は現在のセッション状態を提供するインターフェース。
// session.Watcherが実装する。
type SessionSource interface {
	Status() model.SessionStatus
}

// Recorder は認証フローの結果を記録するインターフェース。
type Recorder interface {
	RecordAuthOperation(operation, outcome string)
}

// Controller は各認証フローを独立した操作として実行する。
//
// 操作の重複呼び出しは直列化しない。同じ操作の多重送信を防ぐのは呼び出し側の責務であり、
// そのためにTryBeginで実行枠の予約を、InFlight/Busyで実行中の件数を公開する。
// 成功後のセッション変化はsession.Watcherを通じて通知される。戻り値とWatcherの通知の
// 順序は保証しないため、リダイレクト等の判断はWatcherの状態で行うこと。
// 台帳（ledger）には一切触れない。
type Controller struct {
	provider identity.Provider
	sessions SessionSource
	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[Operation]int
}

// NewController はControllerを生成する。recorderとloggerはnil可。
func NewController(provider identity.Provider, sessions SessionSource, recorder Recorder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		provider: provider,
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
		inFlight: make(map[Operation]int),
	}
}

// SignIn はメールアドレスとパスワードでサインインする。
func (c *Controller) SignIn(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return "", c.reject(OpSignIn, err)
	}

	defer c.begin(OpSignIn)()
	if _, err := c.provider.SignInWithPassword(ctx, email, password); err != nil {
		return "", c.fail(ctx, OpSignIn, err)
	}
	return c.succeed(ctx, OpSignIn, StatusSignedIn), nil
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
func (c *Controller) SignUp(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return "", c.reject(OpSignUp, err)
	}

	defer c.begin(OpSignUp)()
	if _, err := c.provider.CreateAccountWithPassword(ctx, email, password); err != nil {
		return "", c.fail(ctx, OpSignUp, err)
	}
	return c.succeed(ctx, OpSignUp, StatusAccountCreated), nil
}

// SignInWithPopup はサードパーティ認証の結果でサインインする。
// ユーザーによるキャンセルはPopupCancelledに分類される。
func (c *Controller) SignInWithPopup(ctx context.Context, grant identity.Grant) (string, error) {
	defer c.begin(OpSignInWithPopup)()
	if _, err := c.provider.SignInWithThirdParty(ctx, grant); err != nil {
		return "", c.fail(ctx, OpSignInWithPopup, err)
	}
	return c.succeed(ctx, OpSignInWithPopup, StatusPopupSignedIn), nil
}

// LinkPopup は現在のユーザーにサードパーティのアカウントを紐付ける。
// 認証済みでない場合はIdPを呼ばずにPreconditionFailedを返す。
func (c *Controller) LinkPopup(ctx context.Context, grant identity.Grant) (string, error) {
	status := c.sessions.Status()
	if !status.IsAuthenticated() {
		return "", c.fail(ctx, OpLinkPopup, newPreconditionFailedError())
	}

	defer c.begin(OpLinkPopup)()
	if _, err := c.provider.LinkThirdParty(ctx, status.Session, grant); err != nil {
		return "", c.fail(ctx, OpLinkPopup, err)
	}
	return c.succeed(ctx, OpLinkPopup, StatusLinked), nil
}

// CheckLinkPrecondition はLinkPopupの前提条件（認証済み）を満たすかを返す。
// サードパーティ画面へ遷移する前の確認に使う。
func (c *Controller) CheckLinkPrecondition() error {
	if !c.sessions.Status().IsAuthenticated() {
		return newPreconditionFailedError()
	}
	return nil
}

// ResetPassword はパスワードリセットのリンクを送信する。
// パスワード方式が登録されていないメールアドレスにはリンクを送らず、NoPasswordAccountを返す。
func (c *Controller) ResetPassword(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", c.reject(OpResetPassword, model.NewEmptyRequiredFieldError("email"))
	}

	defer c.begin(OpResetPassword)()
	methods, err := c.provider.ListSignInMethods(ctx, email)
	if err != nil {
		return "", c.fail(ctx, OpResetPassword, err)
	}
	if !slices.Contains(methods, model.SignInMethodPassword) {
		return "", c.fail(ctx, OpResetPassword, newNoPasswordAccountError())
	}
	if err := c.provider.SendPasswordReset(ctx, email); err != nil {
		return "", c.fail(ctx, OpResetPassword, err)
	}
	return c.succeed(ctx, OpResetPassword, StatusResetSent), nil
}

// ConfirmPasswordReset はリセットリンクのトークンで新しいパスワードを設定する。
// 成功するとそのユーザーの既存セッションはIdPによって破棄される。
func (c *Controller) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", c.reject(OpConfirmReset, model.NewEmptyRequiredFieldError("token"))
	}
	if strings.TrimSpace(newPassword) == "" {
		return "", c.reject(OpConfirmReset, model.NewEmptyRequiredFieldError("password"))
	}

	defer c.begin(OpConfirmReset)()
	if err := c.provider.ConfirmPasswordReset(ctx, token, newPassword); err != nil {
		return "", c.fail(ctx, OpConfirmReset, err)
	}
	return c.succeed(ctx, OpConfirmReset, StatusPasswordReset), nil
}

// InFlight は指定した操作の実行中件数を返す。
func (c *Controller) InFlight(op Operation) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[op]
}

// Busy はいずれかの操作が実行中かどうかを返す。
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.inFlight {
		if n > 0 {
			return true
		}
	}
	return false
}

// TryBegin は指定した操作が実行中でなければ実行枠を予約し、解放する関数を返す。
// 判定と予約は同じロック区間で行うため、同時に呼ばれても予約できるのは1件のみ。
// 実行中の場合はokがfalseになる。releaseは複数回呼んでも安全。
func (c *Controller) TryBegin(op Operation) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[op] > 0 {
		return func() {}, false
	}
	c.inFlight[op]++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.inFlight[op]--
			c.mu.Unlock()
		})
	}, true
}

// begin は実行中件数を増やし、減らすための関数を返す。
func (c *Controller) begin(op Operation) func() {
	c.mu.Lock()
	c.inFlight[op]++
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.inFlight[op]--
		c.mu.Unlock()
	}
}

// reject はローカル検証エラーを記録してそのまま返す。分類器は経由しない。
func (c *Controller) reject(op Operation, err error) error {
	c.record(op, "validation")
	return err
}

// fail はエラーを分類し、記録して返す。IdPの生のコードはログにのみ残す。
func (c *Controller) fail(ctx context.Context, op Operation, err error) error {
	classified := Classify(err)

	attrs := []any{
		slog.String("operation", string(op)),
		slog.String("category", string(classified.Category)),
	}
	var providerErr *identity.Error
	if errors.As(err, &providerErr) {
		attrs = append(attrs, slog.String("provider_code", providerErr.Code))
	}
	level := slog.LevelWarn
	if classified.Category == CategoryUnexpected {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Log(ctx, level, "auth operation failed", attrs...)

	c.record(op, string(classified.Category))
	return classified
}

func (c *Controller) succeed(ctx context.Context, op Operation, status string) string {
	c.logger.InfoContext(ctx, "auth operation succeeded", slog.String("operation", string(op)))
	c.record(op, "ok")
	return status
}

func (c *Controller) record(op Operation, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordAuthOperation(string(op), outcome)
	}
}

// normalizeEmail は前後の空白を除去して小文字化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeCredentials はメールアドレスを正規化し、両方の入力が空でないことを確認する。
// パスワードは空白のみかどうかの判定にだけ使い、値自体は変更しない。
func normalizeCredentials(email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return "", model.NewEmptyRequiredFieldError("email", "password")
	}
	return email, nil
}

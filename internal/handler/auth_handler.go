// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/hitoshi/expensetracker/internal/auth"
	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/middleware"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

const (
	oauthStateCookie  = "oauth_state"
	oauthIntentCookie = "oauth_intent"
	oauthCookieMaxAge = 600 // 10分

	intentSignIn = "signin"
	intentLink   = "link"

	// oauthAccessDenied はユーザーが同意画面でキャンセルした場合にIdPが返すerrorパラメータ。
	oauthAccessDenied = "access_denied"

	// StatusSignedOut はサインアウト成功時のメッセージ。
	StatusSignedOut = "サインアウトしました。"
)

// LoginURLBuilder はサードパーティ認証の開始URLを生成するインターフェース。
// identity.Backendが実装する。
type LoginURLBuilder interface {
	LoginURL(state string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証フロー関連のHTTPハンドラー。
// 各フローはリクエストのワークスペースが持つ認証コントローラーに委譲する。
type AuthHandler struct {
	login  LoginURLBuilder
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(login LoginURLBuilder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		login:  login,
		config: config,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Status          string   `json:"status"`
	UserID          string   `json:"user_id,omitempty"`
	Email           string   `json:"email,omitempty"`
	LinkedMethods   []string `json:"linked_methods"`
	HasGoogleLinked bool     `json:"has_google_linked"`
	Busy            bool     `json:"busy"`
}

// Status は現在のセッション状態と紐付け済みのサインイン方式を返す。
// GET /auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	status := ws.Status()
	resp := statusResponse{
		Status:        status.Kind.String(),
		UserID:        status.UserID(),
		LinkedMethods: []string{},
		Busy:          ws.Controller().Busy(),
	}
	if status.IsAuthenticated() {
		resp.Email = status.Session.Email

		methods, err := ws.Provider().LinkedMethods(r.Context())
		if err != nil {
			slog.Error("failed to list linked methods",
				slog.String("user_id", status.UserID()),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		resp.LinkedMethods = methods
		resp.HasGoogleLinked = slices.Contains(methods, model.SignInMethodGoogle)
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.runFlow(w, r, auth.OpSignIn, func(ctx context.Context, c *auth.Controller) (string, error) {
		return c.SignIn(ctx, req.Email, req.Password)
	})
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.runFlow(w, r, auth.OpSignUp, func(ctx context.Context, c *auth.Controller) (string, error) {
		return c.SignUp(ctx, req.Email, req.Password)
	})
}

// PasswordReset はパスワードリセットのリンクを送信する。
// POST /auth/password-reset
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.runFlow(w, r, auth.OpResetPassword, func(ctx context.Context, c *auth.Controller) (string, error) {
		return c.ResetPassword(ctx, req.Email)
	})
}

// ConfirmPasswordReset はリセットリンクのトークンで新しいパスワードを設定する。
// POST /auth/password-reset/confirm
// 同じユーザーでサインイン中だった場合はセッションが破棄され、session_id Cookieも削除される。
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.runFlow(w, r, auth.OpConfirmReset, func(ctx context.Context, c *auth.Controller) (string, error) {
		return c.ConfirmPasswordReset(ctx, req.Token, req.Password)
	})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login?intent=signin|link
// intent=linkの場合は認証済みでなければOAuth画面へ遷移しない。
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	intent := intentSignIn
	if r.URL.Query().Get("intent") == intentLink {
		intent = intentLink
		if err := ws.Controller().CheckLinkPrecondition(); err != nil {
			writeFlowError(w, err)
			return
		}
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setOAuthCookie(w, oauthStateCookie, state, oauthCookieMaxAge)
	h.setOAuthCookie(w, oauthIntentCookie, intent, oauthCookieMaxAge)

	http.Redirect(w, r, h.login.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// 結果に応じてフロントエンドへリダイレクトし、失敗時はerrorパラメータにカテゴリを付与する。
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	// 1. stateの検証（CSRF対策）
	query := r.URL.Query()
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("client_id", ws.ClientID()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_OAUTH_STATE",
			Message:  "認証リクエストの検証に失敗しました。",
			Category: "auth",
			Action:   "もう一度Googleでサインインしてください。",
		})
		return
	}

	intent := intentSignIn
	if c, err := r.Cookie(oauthIntentCookie); err == nil && c.Value == intentLink {
		intent = intentLink
	}
	h.setOAuthCookie(w, oauthStateCookie, "", -1)
	h.setOAuthCookie(w, oauthIntentCookie, "", -1)

	// 2. 認可結果の取得
	grant := identity.Grant{Code: query.Get("code")}
	if query.Get("error") == oauthAccessDenied {
		grant.Cancelled = true
	} else if grant.Code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "MISSING_AUTHORIZATION_CODE",
			Message:  "認可コードがありません。",
			Category: "auth",
			Action:   "もう一度Googleでサインインしてください。",
		})
		return
	}

	// 3. サインインまたは紐付け
	controller := ws.Controller()
	var flowErr error
	if intent == intentLink {
		_, flowErr = controller.LinkPopup(r.Context(), grant)
	} else {
		_, flowErr = controller.SignInWithPopup(r.Context(), grant)
	}
	h.syncSessionCookie(w, ws)

	// 4. フロントエンドにリダイレクト
	http.Redirect(w, r, h.callbackRedirect(intent, flowErr), http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
// 破棄に失敗した場合はセッションとCookieをそのまま残す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	if err := ws.Provider().EndSession(r.Context()); err != nil {
		slog.Error("failed to end session",
			slog.String("client_id", ws.ClientID()),
			slog.String("error", err.Error()),
		)
		writeFlowError(w, err)
		return
	}

	h.syncSessionCookie(w, ws)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: StatusSignedOut})
}

// runFlow は同一操作の多重送信を409で拒否したうえで認証フローを実行する。
func (h *AuthHandler) runFlow(w http.ResponseWriter, r *http.Request, op auth.Operation, flow func(ctx context.Context, c *auth.Controller) (string, error)) {
	ws, ok := workspaceFromRequest(w, r)
	if !ok {
		return
	}

	controller := ws.Controller()
	release, ok := controller.TryBegin(op)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewOperationInFlightError(string(op)))
		return
	}
	defer release()

	message, err := flow(r.Context(), controller)
	h.syncSessionCookie(w, ws)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: message})
}

// syncSessionCookie はIdPクライアントが保持するセッションをsession_id Cookieに反映する。
// 復元中（状態未確定）でセッションがない場合は既存のCookieを変更しない。
func (h *AuthHandler) syncSessionCookie(w http.ResponseWriter, ws *workspace.Workspace) {
	current := ws.Provider().Current()
	if current == nil && !ws.Status().IsResolved() {
		return
	}

	cookie := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if current != nil {
		cookie.Value = current.ID
		cookie.MaxAge = h.config.SessionMaxAge
	} else {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

// callbackRedirect はOAuthコールバック後の遷移先を返す。
// サインインはログイン画面、紐付けは支出画面に戻る。
func (h *AuthHandler) callbackRedirect(intent string, err error) string {
	base := strings.TrimRight(h.config.BaseURL, "/")
	if err == nil {
		return base + "/"
	}

	target := base + middleware.LoginPath
	if intent == intentLink {
		target = base + "/"
	}
	classified := auth.Classify(err)
	return target + "?error=" + url.QueryEscape(string(classified.Category))
}

func (h *AuthHandler) setOAuthCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

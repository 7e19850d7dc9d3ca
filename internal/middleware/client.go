// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

const (
	// ClientCookieName はブラウザクライアントを識別するCookieの名前。
	ClientCookieName = "client_id"

	// SessionCookieName はIdPのセッショントークンを保持するCookieの名前。
	SessionCookieName = "session_id"

	clientCookieMaxAge = 30 * 24 * 60 * 60 // 30日
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// workspaceContextKey はリクエストコンテキストにワークスペースを格納するためのキー。
var workspaceContextKey = contextKey("workspace")

// holderContextKey は外側のミドルウェアがワークスペースを受け取るためのキー。
var holderContextKey = contextKey("workspace_holder")

// workspaceHolder は内側で注入されたワークスペースを外側のミドルウェアへ渡す。
type workspaceHolder struct {
	mu sync.Mutex
	ws *workspace.Workspace
}

func (h *workspaceHolder) set(ws *workspace.Workspace) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ws = ws
}

func (h *workspaceHolder) get() *workspace.Workspace {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ws
}

func contextWithHolder(ctx context.Context, h *workspaceHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// WorkspaceSource はクライアントIDからワークスペースを取得するインターフェース。
// workspace.Registryが実装する。
type WorkspaceSource interface {
	Get(clientID, restoreToken string) *workspace.Workspace
}

// CookieConfig はCookie発行の設定。
type CookieConfig struct {
	Secure bool
	Domain string
}

// NewClientMiddleware はclient_id Cookieでブラウザクライアントを識別し、
// 対応するワークスペースをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、またはUUIDとして不正な場合は新しいIDを発行する。
// ワークスペースの初回生成時にはsession_id Cookieの値をセッション復元に使う。
func NewClientMiddleware(source WorkspaceSource, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIDFromRequest(r)
			if clientID == "" {
				clientID = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    clientID,
					Path:     "/",
					Domain:   config.Domain,
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					Secure:   config.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			var restoreToken string
			if c, err := r.Cookie(SessionCookieName); err == nil {
				restoreToken = c.Value
			}

			ws := source.Get(clientID, restoreToken)
			next.ServeHTTP(w, r.WithContext(ContextWithWorkspace(r.Context(), ws)))
		})
	}
}

// WorkspaceFromContext はリクエストコンテキストからワークスペースを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func WorkspaceFromContext(ctx context.Context) (*workspace.Workspace, error) {
	ws, ok := ctx.Value(workspaceContextKey).(*workspace.Workspace)
	if !ok || ws == nil {
		return nil, fmt.Errorf("workspace not found in context")
	}
	return ws, nil
}

// ContextWithWorkspace はコンテキストにワークスペースを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithWorkspace(ctx context.Context, ws *workspace.Workspace) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*workspaceHolder); ok {
		h.set(ws)
	}
	return context.WithValue(ctx, workspaceContextKey, ws)
}

// clientIDFromRequest はCookieから有効なクライアントIDを取得する。無効な場合は空文字列。
func clientIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(ClientCookieName)
	if err != nil || c.Value == "" {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

// LoginPath は未認証時の誘導先。
const LoginPath = "/login"

// DefaultSessionResolveTimeout はセッション状態の確定を待つ時間のデフォルト値。
const DefaultSessionResolveTimeout = 3 * time.Second

// NewSessionGateMiddleware は保護されたエンドポイントへのアクセスをセッション状態で判定するミドルウェアを返す。
//
// セッション状態が未確定の場合は最大timeoutまで確定を待つ。
// 待機後も未確定なら503、セッションがなければ401とログイン画面への誘導先を返す。
// 未確定の状態で401を返すことはない。timeoutが0以下の場合はDefaultSessionResolveTimeoutを使う。
func NewSessionGateMiddleware(timeout time.Duration) func(next http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultSessionResolveTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := WorkspaceFromContext(r.Context())
			if err != nil {
				slog.Error("session gate without workspace", slog.String("path", r.URL.Path))
				WriteInternalServerError(w)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			gate := ws.WaitResolved(ctx)
			cancel()

			switch gate {
			case workspace.GateAllow:
				next.ServeHTTP(w, r)
			case workspace.GateRedirect:
				WriteRedirectResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(), LoginPath)
			default:
				slog.Warn("session status not resolved in time",
					slog.String("client_id", ws.ClientID()),
					slog.Duration("timeout", timeout),
				)
				w.Header().Set("Retry-After", "1")
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionPendingError())
			}
		})
	}
}

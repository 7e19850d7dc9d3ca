package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/expensetracker/internal/middleware"
	"github.com/hitoshi/expensetracker/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// ミドルウェア依存
	Logger                *slog.Logger
	HTTPRecorder          middleware.HTTPRecorder
	CORSAllowedOrigin     string
	CSRFConfig            middleware.CSRFConfig
	CookieConfig          middleware.CookieConfig
	Workspaces            middleware.WorkspaceSource
	RateLimiter           *middleware.RateLimiter
	SessionResolveTimeout time.Duration

	// 認証
	LoginURL   LoginURLBuilder
	AuthConfig AuthHandlerConfig

	// 支出
	Sanitizer     security.NoteSanitizer
	ExpenseConfig ExpenseHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF
//	  → Client → RateLimit(General) → [RateLimit(Auth) | SessionGate]
//
// /health、/metrics、/api/csrf-tokenはワークスペースを生成しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.LoginURL, deps.AuthConfig)
	expenseHandler := NewExpenseHandler(deps.Sanitizer, deps.ExpenseConfig)

	// --- ワークスペース不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- クライアント単位のルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.Workspaces, deps.CookieConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", authHandler.Status)
			r.Post("/logout", authHandler.Logout)
			r.Get("/google/login", authHandler.GoogleLogin)

			// 認証情報を送信する操作（認証専用レート制限を追加）
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/password-reset", authHandler.PasswordReset)
				r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
				r.Get("/google/callback", authHandler.GoogleCallback)
			})
		})

		// 支出台帳（セッションゲートの内側）
		r.Route("/api/expenses", func(r chi.Router) {
			r.Use(middleware.NewSessionGateMiddleware(deps.SessionResolveTimeout))
			r.Get("/", expenseHandler.List)
			r.Post("/", expenseHandler.Create)
		})
	})

	return r
}

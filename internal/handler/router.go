package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger // nilの場合はslog.Default()
	CORSAllowedOrigin string

	// セッション
	Cookies         CookieCodec
	SessionResolver middleware.SessionResolver

	// 認証
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig
	CallbackHooks CallbackHooks

	// ユーザー
	Users UserFinder

	// 運用
	HealthChecker  Pinger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は/metricsを登録しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS
//
// SessionMiddlewareは/api/current_userにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.AuthConfig, deps.CallbackHooks, deps.Metrics)
	userHandler := NewUserHandler(deps.Users)

	// OAuthフロー
	r.Get("/auth/google", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/logout", authHandler.Logout)
		r.With(middleware.NewSessionMiddleware(deps.Cookies, deps.SessionResolver)).
			Get("/current_user", userHandler.CurrentUser)
	})

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker).Health)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}

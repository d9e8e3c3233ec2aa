// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	// DefaultCallbackTimeout はコールバック処理全体の制限時間。
	DefaultCallbackTimeout = 25 * time.Second

	// lateDiscardTimeout はタイムアウト後に完了したセッションを破棄する際の制限時間。
	lateDiscardTimeout = 10 * time.Second

	stateBytes = 16
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	LoginURL(ctx context.Context, state string) string
	HandleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// CookieCodec はセッションCookieとstate Cookieを扱うインターフェース。
// session.CookieCodecが実装する。
type CookieCodec interface {
	SessionCookie(session *model.Session) (*http.Cookie, error)
	ClearCookie() *http.Cookie
	TokenFromRequest(r *http.Request) (string, error)
	StateCookie(state string) (*http.Cookie, error)
	ClearStateCookie() *http.Cookie
	StateFromRequest(r *http.Request) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientURL       string        // ログイン・ログアウト後のリダイレクト先
	CallbackTimeout time.Duration // 0の場合はDefaultCallbackTimeout
}

// CallbackHooks はコールバック処理の前後に呼ばれるフック。
// フックはレスポンスに影響しない。panicは回復してログに記録する。
type CallbackHooks struct {
	Before func(ctx context.Context, req auth.CallbackRequest)
	After  func(ctx context.Context, result *auth.LoginResult, err error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies CookieCodec
	config  AuthHandlerConfig
	hooks   CallbackHooks
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, cookies CookieCodec, config AuthHandlerConfig, hooks CallbackHooks, mc metrics.MetricsCollector) *AuthHandler {
	if config.CallbackTimeout <= 0 {
		config.CallbackTimeout = DefaultCallbackTimeout
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &AuthHandler{
		service: service,
		cookies: cookies,
		config:  config,
		hooks:   hooks,
		metrics: mc,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	cookie, err := h.cookies.StateCookie(state)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to encode oauth state cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.SetCookie(w, cookie)

	http.Redirect(w, r, h.service.LoginURL(r.Context(), state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := query.Get("state")
	expected := h.cookies.StateFromRequest(r)
	if state == "" || expected == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		slog.WarnContext(r.Context(), "oauth state mismatch",
			slog.Bool("state_cookie_present", expected != ""),
		)
		h.metrics.RecordLogin(metrics.OutcomeState)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// stateクッキーは成否にかかわらず使い捨て
	http.SetCookie(w, h.cookies.ClearStateCookie())

	// 2. 認証処理（全体の制限時間つき）
	req := auth.CallbackRequest{
		Code:             query.Get("code"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
	h.runBefore(r.Context(), req)
	result, err := h.handleCallback(r.Context(), req)
	h.runAfter(r.Context(), result, err)
	h.metrics.RecordCallbackDuration(time.Since(start))

	if err != nil {
		h.metrics.RecordLogin(loginOutcome(err))
		status, _ := middleware.ErrorStatus(err)
		slog.ErrorContext(r.Context(), "oauth callback failed",
			slog.String("stage", auth.StageOf(err)),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	// 3. セッションCookieを設定
	cookie, err := h.cookies.SessionCookie(result.Session)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to encode session cookie",
			slog.String("stage", auth.StageCreateSession),
			slog.String("error", err.Error()),
		)
		h.discardSession(r.Context(), result.Session)
		h.metrics.RecordLogin(metrics.OutcomeSession)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionCreationFailedError())
		return
	}
	http.SetCookie(w, cookie)

	if result.Created {
		h.metrics.RecordUserCreated()
	}
	h.metrics.RecordLogin(metrics.OutcomeSuccess)

	slog.InfoContext(r.Context(), "user logged in",
		slog.String("user_id", result.User.ID),
		slog.Bool("created", result.Created),
	)

	// 4. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.ClientURL+"/dashboard", http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// GET /api/logout
// 破棄に失敗した場合はCookieを残して500を返し、再試行できるようにする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, err := h.cookies.TokenFromRequest(r); err == nil {
		if err := h.service.Logout(r.Context(), token); err != nil {
			slog.ErrorContext(r.Context(), "failed to logout",
				slog.String("stage", auth.StageOf(err)),
				slog.String("error", err.Error()),
			)
			h.metrics.RecordLogout(metrics.OutcomeFailed)
			middleware.WriteError(w, err)
			return
		}
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	h.metrics.RecordLogout(metrics.OutcomeSuccess)
	http.Redirect(w, r, h.config.ClientURL+"/", http.StatusTemporaryRedirect)
}

type callbackOutcome struct {
	result *auth.LoginResult
	err    error
}

// handleCallback はコールバック処理をCallbackTimeoutと競争させる。
// 制限時間を過ぎた場合は遅れて届いた結果を捨て、作成済みのセッションを破棄する。
func (h *AuthHandler) handleCallback(ctx context.Context, req auth.CallbackRequest) (*auth.LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.CallbackTimeout)
	defer cancel()

	done := make(chan callbackOutcome, 1)
	go func() {
		result, err := h.service.HandleCallback(ctx, req)
		done <- callbackOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		go h.discardLate(ctx, done)
		return nil, fmt.Errorf("%w: callback exceeded %s: %w", model.ErrVerificationTimeout, h.config.CallbackTimeout, ctx.Err())
	}
}

func (h *AuthHandler) discardLate(ctx context.Context, done <-chan callbackOutcome) {
	out := <-done
	if out.err != nil || out.result == nil {
		return
	}
	slog.WarnContext(ctx, "discarding session created after callback timeout",
		slog.String("user_id", out.result.User.ID),
	)
	h.discardSession(ctx, out.result.Session)
}

// discardSession はクライアントへ渡せなかったセッションを破棄する。
func (h *AuthHandler) discardSession(ctx context.Context, session *model.Session) {
	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lateDiscardTimeout)
	defer cancel()
	if err := h.service.Logout(ctx, session.ID); err != nil {
		slog.ErrorContext(ctx, "failed to discard session",
			slog.String("stage", auth.StageDestroySession),
			slog.String("error", err.Error()),
		)
	}
}

func (h *AuthHandler) runBefore(ctx context.Context, req auth.CallbackRequest) {
	if h.hooks.Before == nil {
		return
	}
	defer recoverHook(ctx, "before")
	h.hooks.Before(ctx, req)
}

func (h *AuthHandler) runAfter(ctx context.Context, result *auth.LoginResult, err error) {
	if h.hooks.After == nil {
		return
	}
	defer recoverHook(ctx, "after")
	h.hooks.After(ctx, result, err)
}

func recoverHook(ctx context.Context, point string) {
	if rec := recover(); rec != nil {
		slog.WarnContext(ctx, "callback hook panicked",
			slog.String("hook", point),
			slog.Any("panic", rec),
		)
	}
}

// loginOutcome はエラーをメトリクスの結果ラベルに変換する。
func loginOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrVerificationTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, model.ErrProviderDenied):
		return metrics.OutcomeDenied
	case errors.Is(err, model.ErrSessionCreationFailed):
		return metrics.OutcomeSession
	case errors.Is(err, model.ErrStoreUnavailable):
		return metrics.OutcomeStore
	default:
		return metrics.OutcomeFailed
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

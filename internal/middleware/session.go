// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenDecoder はリクエストのCookieからセッショントークンを取り出すインターフェース。
// session.CookieCodecが実装する。
type TokenDecoder interface {
	TokenFromRequest(r *http.Request) (string, error)
}

// SessionResolver はセッショントークンをユーザーIDに解決するインターフェース。
// session.Managerが実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// NewSessionMiddleware はセッションCookieを検証し、認証済みユーザーIDを
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない・無効なリクエストは未ログインとしてそのまま通す。
// セッションストアに到達できない場合は503を返す。
func NewSessionMiddleware(decoder TokenDecoder, resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得（改ざん・期限切れは未ログイン扱い）
			token, err := decoder.TokenFromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			// 2. セッションの有効性を検証
			userID, err := resolver.Resolve(r.Context(), token)
			switch {
			case errors.Is(err, model.ErrInvalidSession):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				slog.ErrorContext(r.Context(), "failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteError(w, err)
				return
			}

			// 3. 認証済みユーザーIDをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 未ログインのリクエストではエラーを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if holder, ok := ctx.Value(userIDHolderKey).(*userIDHolder); ok {
		holder.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

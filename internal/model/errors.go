// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証フローで発生するエラー。各層は%wでラップして返し、呼び出し側はerrors.Isで判定する。
var (
	// ErrProviderDenied はIdPが認証を明示的に拒否したことを示す。
	ErrProviderDenied = errors.New("identity provider denied authentication")
	// ErrVerificationTimeout はIdPとのトークン交換・プロフィール取得がタイムアウトしたことを示す。
	ErrVerificationTimeout = errors.New("identity verification timed out")
	// ErrVerificationFailed はタイムアウト・拒否以外の理由で本人確認に失敗したことを示す。
	ErrVerificationFailed = errors.New("identity verification failed")
	// ErrStoreUnavailable はデータストアに到達できない、またはタイムアウトしたことを示す。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSessionCreationFailed は本人確認成功後のセッション発行に失敗したことを示す。
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrInvalidSession はセッショントークンが存在しない・期限切れ・不正であることを示す。
	// 未ログイン状態として扱い、エラーレスポンスにはしない。
	ErrInvalidSession = errors.New("invalid session")
	// ErrLogoutFailed はセッション破棄に失敗したことを示す。
	ErrLogoutFailed = errors.New("logout failed")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, session, system
	Action   string // ユーザー向け対処方法
	Retry    bool   // 同じ操作をやり直せば成功しうるか
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthDenied            = "AUTH_DENIED"
	ErrCodeAuthTimeout           = "AUTH_TIMEOUT"
	ErrCodeAuthFailed            = "AUTH_FAILED"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	ErrCodeSessionCreationFailed = "SESSION_CREATION_FAILED"
	ErrCodeLogoutFailed          = "LOGOUT_FAILED"
)

// NewAuthDeniedError はIdPによる認証拒否エラーを生成する。
func NewAuthDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthDenied,
		Message:  "Googleアカウントでの認証が拒否されました。",
		Category: "auth",
		Action:   "もう一度ログインし、アクセスを許可してください。",
	}
}

// NewAuthTimeoutError は認証タイムアウトエラーを生成する。
func NewAuthTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthTimeout,
		Message:  "認証がタイムアウトしました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
		Retry:    true,
	}
}

// NewAuthFailedError は認証失敗エラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewInvalidStateError はOAuth stateの不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "ログイン要求が無効です。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewStoreUnavailableError はデータストア到達不能エラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データベースに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Retry:    true,
	}
}

// NewSessionCreationFailedError はセッション発行失敗エラーを生成する。
func NewSessionCreationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionCreationFailed,
		Message:  "セッションの作成に失敗しました。",
		Category: "session",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewLogoutFailedError はログアウト失敗エラーを生成する。
func NewLogoutFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLogoutFailed,
		Message:  "ログアウトに失敗しました。",
		Category: "session",
		Action:   "しばらく待ってから再度ログアウトしてください。",
	}
}

// Package auth はOAuthコールバックによる本人確認とログインフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authgate/internal/model"
)

// FlowState は1回のログインの進行状態。
type FlowState string

const (
	StateAnonymous               FlowState = "anonymous"
	StatePendingProviderRedirect FlowState = "pending_provider_redirect"
	StatePendingCallback         FlowState = "pending_callback"
	StateAuthenticated           FlowState = "authenticated"
	StateFailed                  FlowState = "failed"
)

// 失敗した処理段階。エラーログのstage属性に使う。
const (
	StageVerify         = "verify"
	StageFindOrCreate   = "find_or_create"
	StageCreateSession  = "create_session"
	StageDestroySession = "destroy_session"
)

// CallbackRequest はIdPからのリダイレクトで受け取るパラメータ。
type CallbackRequest struct {
	Code             string
	Error            string
	ErrorDescription string
}

// Verifier はIdPとのOAuthプロトコルを扱うインターフェース。
type Verifier interface {
	// AuthCodeURL はIdPの同意画面へのURLを生成する。
	AuthCodeURL(state string) string
	// Verify はコールバックを検証し、正規化したプロフィールを返す。
	Verify(ctx context.Context, req CallbackRequest) (*model.Profile, error)
}

// UserStore はプロフィールからローカルユーザーを解決するインターフェース。
// user.Serviceが実装する。
type UserStore interface {
	FindOrCreate(ctx context.Context, profile model.Profile) (*model.User, bool, error)
}

// SessionIssuer はセッションを発行・破棄するインターフェース。
// session.Managerが実装する。
type SessionIssuer interface {
	Create(ctx context.Context, userID string) (*model.Session, error)
	Destroy(ctx context.Context, token string) error
}

// Hook は認証フローの診断イベントを受け取るインターフェース。
// logger.DiagnosticHookが実装する。
type Hook interface {
	Emit(ctx context.Context, stage string, attrs ...slog.Attr)
}

// StageError は失敗した処理段階を伴うエラー。
type StageError struct {
	Stage string
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf はエラーが発生した処理段階を返す。不明な場合は空文字。
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// LoginResult は成功したログインの結果。
type LoginResult struct {
	User    *model.User
	Session *model.Session
	Created bool // ユーザーを新規作成した場合true
}

// Service はOAuthコールバックからセッション発行までを組み立てる。
type Service struct {
	verifier Verifier
	users    UserStore
	sessions SessionIssuer
	hook     Hook
}

// NewService はServiceを生成する。hookはnilでもよい。
func NewService(verifier Verifier, users UserStore, sessions SessionIssuer, hook Hook) *Service {
	return &Service{verifier: verifier, users: users, sessions: sessions, hook: hook}
}

// LoginURL はIdPの同意画面へのURLを返す。
func (s *Service) LoginURL(ctx context.Context, state string) string {
	s.emit(ctx, StatePendingProviderRedirect)
	return s.verifier.AuthCodeURL(state)
}

// HandleCallback はコールバックを検証し、ユーザーを解決してセッションを発行する。
// 返すエラーは*StageErrorで、model側の番兵エラーをラップしている。
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*LoginResult, error) {
	s.emit(ctx, StatePendingCallback)

	// 1. IdPで本人確認
	profile, err := s.verifier.Verify(ctx, req)
	if err != nil {
		if !errors.Is(err, model.ErrProviderDenied) && !errors.Is(err, model.ErrVerificationTimeout) &&
			!errors.Is(err, model.ErrVerificationFailed) {
			err = fmt.Errorf("%w: %w", model.ErrVerificationFailed, err)
		}
		return nil, s.fail(ctx, StageVerify, err)
	}

	// 2. ローカルユーザーを検索・作成
	user, created, err := s.users.FindOrCreate(ctx, *profile)
	if err != nil {
		if !errors.Is(err, model.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return nil, s.fail(ctx, StageFindOrCreate, err)
	}

	// 3. セッションを発行
	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, model.ErrSessionCreationFailed) {
			err = fmt.Errorf("%w: %w", model.ErrSessionCreationFailed, err)
		}
		return nil, s.fail(ctx, StageCreateSession, err)
	}

	s.emit(ctx, StateAuthenticated,
		slog.String("user_id", user.ID),
		slog.Bool("created", created),
	)
	return &LoginResult{User: user, Session: session, Created: created}, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		if !errors.Is(err, model.ErrLogoutFailed) {
			err = fmt.Errorf("%w: %w", model.ErrLogoutFailed, err)
		}
		return &StageError{Stage: StageDestroySession, Err: err}
	}
	s.emit(ctx, StateAnonymous)
	return nil
}

func (s *Service) fail(ctx context.Context, stage string, err error) error {
	s.emit(ctx, StateFailed,
		slog.String("failed_stage", stage),
		slog.String("error", err.Error()),
	)
	return &StageError{Stage: stage, Err: err}
}

// emit はフック呼び出しを行う。フックの失敗はフローに影響させない。
func (s *Service) emit(ctx context.Context, state FlowState, attrs ...slog.Attr) {
	if s.hook == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.WarnContext(ctx, "diagnostic hook panicked",
				slog.String("state", string(state)),
				slog.Any("panic", rec),
			)
		}
	}()
	s.hook.Emit(ctx, string(state), attrs...)
}

// Package session はセッションの発行・検証・破棄とCookieへの受け渡しを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// DefaultMaxAge はセッションのデフォルト有効期間（30日）。
const DefaultMaxAge = 30 * 24 * time.Hour

// tokenBytes はセッショントークンの乱数バイト長。
const tokenBytes = 32

// ManagerConfig はセッションマネージャーの設定。
type ManagerConfig struct {
	MaxAge       time.Duration // 発行時刻からの有効期間。延長はしない
	StoreTimeout time.Duration // ストア操作1回あたりのタイムアウト
}

// Manager はサーバー側セッションのライフサイクルを管理する。
type Manager struct {
	repo   repository.SessionRepository
	config ManagerConfig
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, config ManagerConfig) *Manager {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 8 * time.Second
	}
	return &Manager{repo: repo, config: config, now: time.Now}
}

// MaxAge はセッションの有効期間を返す。
func (m *Manager) MaxAge() time.Duration {
	return m.config.MaxAge
}

// Create はuserIDに紐付くセッションを発行し永続化する。
// 失敗時はmodel.ErrSessionCreationFailedを返す。
func (m *Manager) Create(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate token: %w", model.ErrSessionCreationFailed, err)
	}

	now := m.now().UTC()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(m.config.MaxAge),
		CreatedAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSessionCreationFailed, err)
	}

	slog.InfoContext(ctx, "session created", slog.String("user_id", userID))
	return session, nil
}

// Resolve はトークンを検証し、紐付くユーザーIDを返す。
// 空・未登録・期限切れのトークンはmodel.ErrInvalidSessionを返す。
// ストア障害はmodel.ErrStoreUnavailableとして返す。
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.ErrInvalidSession
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	session, err := m.repo.FindByID(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrStoreUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if session == nil || session.Expired(m.now()) {
		return "", model.ErrInvalidSession
	}

	return session.UserID, nil
}

// Destroy はトークンのセッションを即時に無効化する。
// 存在しないトークンの破棄はエラーにしない。失敗時はmodel.ErrLogoutFailedを返す。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	if err := m.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", model.ErrLogoutFailed, err)
	}
	return nil
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// DefaultStoreTimeout はストア操作1回あたりのデフォルトタイムアウト。
const DefaultStoreTimeout = 8 * time.Second

// Service はユーザー管理のサービス層。
// IdPのプロフィールからローカルユーザーを検索・作成する。
type Service struct {
	userRepo     repository.UserRepository
	storeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// storeTimeoutが0以下の場合はDefaultStoreTimeoutを使用する。
func NewService(userRepo repository.UserRepository, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Service{
		userRepo:     userRepo,
		storeTimeout: storeTimeout,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// FindOrCreate はExternalIDでユーザーを検索し、存在しなければ作成する。
// 既存ユーザーはプロフィールが変わっていても更新しない。
// createdは今回の呼び出しでユーザーを作成した場合にtrueとなる。
func (s *Service) FindOrCreate(ctx context.Context, profile model.Profile) (*model.User, bool, error) {
	existing, err := s.findByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	user := &model.User{
		ID:          s.newID(),
		ExternalID:  profile.ExternalID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		CreatedAt:   s.now().UTC(),
	}

	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.userRepo.Create(ctx, user)
	})
	if errors.Is(err, repository.ErrDuplicateExternalID) {
		// 並行するコールバックが先に作成した。作成済みのレコードを返す。
		slog.InfoContext(ctx, "user created concurrently, reloading",
			slog.String("external_id", profile.ExternalID),
		)
		winner, err := s.findByExternalID(ctx, profile.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, fmt.Errorf("重複作成後にユーザー %q が見つかりません: %w",
				profile.ExternalID, model.ErrStoreUnavailable)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", storeUnavailable(err))
	}

	slog.InfoContext(ctx, "user created",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)
	return user, true, nil
}

// FindByID は指定IDのユーザーを取得する。存在しない場合はnilを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user *model.User
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.userRepo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", storeUnavailable(err))
	}
	return user, nil
}

func (s *Service) findByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var user *model.User
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.userRepo.FindByExternalID(ctx, externalID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", storeUnavailable(err))
	}
	return user, nil
}

// withTimeout はstoreTimeoutで区切ったコンテキストでfnを実行する。
func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(ctx)
}

// storeUnavailable はストア操作のエラーがErrStoreUnavailableとして判定できるようにする。
func storeUnavailable(err error) error {
	if errors.Is(err, model.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}

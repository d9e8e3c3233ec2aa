package user

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByExternalIDFn func(ctx context.Context, externalID string) (*model.User, error)
	createFn           func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if m.findByExternalIDFn != nil {
		return m.findByExternalIDFn(ctx, externalID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

// memoryUserRepo は一意制約を再現するインメモリ実装。
type memoryUserRepo struct {
	mu         sync.Mutex
	byExternal map[string]*model.User
	creates    int
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{byExternal: make(map[string]*model.User)}
}

func (m *memoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byExternal {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memoryUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byExternal[externalID], nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byExternal[user.ExternalID]; ok {
		return repository.ErrDuplicateExternalID
	}
	m.byExternal[user.ExternalID] = user
	m.creates++
	return nil
}

var adaProfile = model.Profile{ExternalID: "g123", DisplayName: "Ada", Email: "ada@x.com"}

// --- テスト ---

// 未登録のExternalIDでユーザーが作成されることを検証する。
func TestService_FindOrCreate_CreatesNewUser(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, time.Second)

	user, created, err := svc.FindOrCreate(context.Background(), adaProfile)
	if err != nil {
		t.Fatalf("FindOrCreate returned error: %v", err)
	}
	if !created {
		t.Error("expected created to be true")
	}
	if user.ID == "" {
		t.Error("expected user ID to be assigned")
	}
	if user.ExternalID != "g123" || user.DisplayName != "Ada" || user.Email != "ada@x.com" {
		t.Errorf("unexpected user: %+v", user)
	}
	if user.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if repo.creates != 1 {
		t.Errorf("creates = %d, want 1", repo.creates)
	}
}

// 既存ユーザーはプロフィールが変わっても更新されずに返ることを検証する。
func TestService_FindOrCreate_ReturnsExistingUnchanged(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, time.Second)
	ctx := context.Background()

	first, _, err := svc.FindOrCreate(ctx, adaProfile)
	if err != nil {
		t.Fatalf("first FindOrCreate returned error: %v", err)
	}

	changed := model.Profile{ExternalID: "g123", DisplayName: "Ada L.", Email: "new@x.com"}
	second, created, err := svc.FindOrCreate(ctx, changed)
	if err != nil {
		t.Fatalf("second FindOrCreate returned error: %v", err)
	}
	if created {
		t.Error("expected created to be false for known external ID")
	}
	if second.ID != first.ID {
		t.Errorf("ID = %q, want %q", second.ID, first.ID)
	}
	if second.DisplayName != "Ada" || second.Email != "ada@x.com" {
		t.Errorf("existing user must not be synced: %+v", second)
	}
	if repo.creates != 1 {
		t.Errorf("creates = %d, want 1", repo.creates)
	}
}

// 作成時の一意制約違反で既存ユーザーを再検索して返すことを検証する。
func TestService_FindOrCreate_DuplicateFallsBackToLookup(t *testing.T) {
	winner := &model.User{ID: "winner-id", ExternalID: "g123", DisplayName: "Ada"}
	lookups := 0
	repo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			lookups++
			if lookups == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			return repository.ErrDuplicateExternalID
		},
	}
	svc := NewService(repo, time.Second)

	user, created, err := svc.FindOrCreate(context.Background(), adaProfile)
	if err != nil {
		t.Fatalf("FindOrCreate returned error: %v", err)
	}
	if created {
		t.Error("expected created to be false after duplicate fallback")
	}
	if user.ID != "winner-id" {
		t.Errorf("ID = %q, want winner-id", user.ID)
	}
	if lookups != 2 {
		t.Errorf("lookups = %d, want 2", lookups)
	}
}

// 並行する同一ExternalIDのFindOrCreateで1件だけ作成されることを検証する。
func TestService_FindOrCreate_ConcurrentCallsCreateOnce(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, time.Second)

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := svc.FindOrCreate(context.Background(), adaProfile)
			errs[i] = err
			if u != nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d returned error: %v", i, err)
		}
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("caller %d got ID %q, want %q", i, id, ids[0])
		}
	}
	if repo.creates != 1 {
		t.Errorf("creates = %d, want 1", repo.creates)
	}
}

// ストア障害がErrStoreUnavailableとして返ることを検証する。
func TestService_FindOrCreate_StoreFailure(t *testing.T) {
	tests := []struct {
		name string
		repo *mockUserRepo
	}{
		{
			name: "検索失敗",
			repo: &mockUserRepo{
				findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
					return nil, errors.New("connection reset")
				},
			},
		},
		{
			name: "作成失敗",
			repo: &mockUserRepo{
				createFn: func(ctx context.Context, user *model.User) error {
					return errors.New("connection reset")
				},
			},
		},
		{
			name: "重複後の再検索でユーザーが消えている",
			repo: &mockUserRepo{
				createFn: func(ctx context.Context, user *model.User) error {
					return repository.ErrDuplicateExternalID
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.repo, time.Second)
			_, _, err := svc.FindOrCreate(context.Background(), adaProfile)
			if !errors.Is(err, model.ErrStoreUnavailable) {
				t.Errorf("expected ErrStoreUnavailable, got %v", err)
			}
		})
	}
}

// 各ストア操作にタイムアウトが設定されることを検証する。
func TestService_FindOrCreate_AppliesStoreTimeout(t *testing.T) {
	repo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := NewService(repo, 20*time.Millisecond)

	start := time.Now()
	_, _, err := svc.FindOrCreate(context.Background(), adaProfile)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not applied: took %v", elapsed)
	}
}

func TestService_FindByID(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: "user-1", ExternalID: "g123"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, time.Second)

	user, err := svc.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if user == nil || user.ExternalID != "g123" {
		t.Errorf("unexpected user: %+v", user)
	}

	missing, err := svc.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil, got %+v", missing)
	}
}

func TestService_FindByID_StoreFailure(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("timeout")
		},
	}
	svc := NewService(repo, time.Second)

	if _, err := svc.FindByID(context.Background(), "user-1"); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestNewService_DefaultTimeout(t *testing.T) {
	svc := NewService(&mockUserRepo{}, 0)
	if svc.storeTimeout != DefaultStoreTimeout {
		t.Errorf("storeTimeout = %v, want %v", svc.storeTimeout, DefaultStoreTimeout)
	}
}

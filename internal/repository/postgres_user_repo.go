package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBProvider
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBProvider) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by ID",
		`SELECT id, external_id, display_name, email, created_at FROM users WHERE id = $1`,
		id,
	)
}

// FindByExternalID はIdPのsubjectでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	return r.findOne(ctx, "find user by external ID",
		`SELECT id, external_id, display_name, email, created_at FROM users WHERE external_id = $1`,
		externalID,
	)
}

// Create はユーザーを作成する。
// external_idの一意制約違反はErrDuplicateExternalIDとして返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	db, err := r.db.EnsureConnected(ctx)
	if err != nil {
		return storeError("insert user", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, display_name, email, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.ExternalID, user.DisplayName, user.Email, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	if err != nil {
		return storeError("insert user", err)
	}

	return nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, arg string) (*model.User, error) {
	db, err := r.db.EnsureConnected(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}

	user := &model.User{}
	err = db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.ExternalID, &user.DisplayName, &user.Email, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

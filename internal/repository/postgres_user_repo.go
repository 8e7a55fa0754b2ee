package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/chirp/internal/model"
)

// userColumns はusersテーブルのSELECT列。scanUserと順序を一致させること。
const userColumns = `id, name, email, username, image, created_at,
	followers_count, followings_count, tweets_count`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Username, &user.Image, &user.CreatedAt,
		&user.SocialDetails.FollowersCount, &user.SocialDetails.FollowingsCount,
		&user.ActivityDetails.TweetsCount,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。カウンタは0で初期化される。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, username, image, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.Username, user.Image, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return userDuplicateError(err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// usersテーブルのUNIQUE制約名（PostgreSQLの既定命名）。
const (
	usersUsernameKey = "users_username_key"
	usersEmailKey    = "users_email_key"
)

// userDuplicateError は一意制約違反を衝突した制約ごとのエラーに変換する。
func userDuplicateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ErrDuplicate
	}
	switch pqErr.Constraint {
	case usersUsernameKey:
		return ErrDuplicateUsername
	case usersEmailKey:
		return ErrDuplicateEmail
	}
	return ErrDuplicate
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chirp/internal/model"
)

// PostgresFollowRepo はPostgreSQLを使用したフォロー関係リポジトリ。
// followers は「userIDをフォローしているユーザー」、followings は「userIDがフォローしているユーザー」を保持する。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// FindFollowing はfollowerIDのfollowingsにあるfolloweeIDのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresFollowRepo) FindFollowing(ctx context.Context, followerID, followeeID string) (*model.FollowEdge, error) {
	edge := &model.FollowEdge{FollowerID: followerID, FolloweeID: followeeID}
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM followings WHERE user_id = $1 AND following_id = $2`,
		followerID, followeeID,
	).Scan(&edge.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォロー中レコードの取得に失敗しました: %w", err)
	}
	return edge, nil
}

// FindFollower はuserIDのfollowersにあるfollowerIDのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresFollowRepo) FindFollower(ctx context.Context, userID, followerID string) (*model.FollowEdge, error) {
	edge := &model.FollowEdge{FollowerID: followerID, FolloweeID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM followers WHERE user_id = $1 AND follower_id = $2`,
		userID, followerID,
	).Scan(&edge.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォロワーレコードの取得に失敗しました: %w", err)
	}
	return edge, nil
}

// ListFollowers はuserIDのフォロワーをcreated_at降順で返す。
func (r *PostgresFollowRepo) ListFollowers(ctx context.Context, userID string, after *EdgeCursor, limit int) ([]model.FollowEdge, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT follower_id, created_at FROM followers
			 WHERE user_id = $1
			 ORDER BY created_at DESC, follower_id DESC
			 LIMIT $2`,
			userID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT follower_id, created_at FROM followers
			 WHERE user_id = $1 AND (created_at, follower_id) < ($2, $3)
			 ORDER BY created_at DESC, follower_id DESC
			 LIMIT $4`,
			userID, after.CreatedAt, after.UserID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var edges []model.FollowEdge
	for rows.Next() {
		edge := model.FollowEdge{FolloweeID: userID}
		if err := rows.Scan(&edge.FollowerID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("フォロワー行の読み取りに失敗しました: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロワー一覧の走査に失敗しました: %w", err)
	}
	return edges, nil
}

// ListFollowings はuserIDのフォロー中ユーザーをcreated_at降順で返す。
func (r *PostgresFollowRepo) ListFollowings(ctx context.Context, userID string, after *EdgeCursor, limit int) ([]model.FollowEdge, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT following_id, created_at FROM followings
			 WHERE user_id = $1
			 ORDER BY created_at DESC, following_id DESC
			 LIMIT $2`,
			userID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT following_id, created_at FROM followings
			 WHERE user_id = $1 AND (created_at, following_id) < ($2, $3)
			 ORDER BY created_at DESC, following_id DESC
			 LIMIT $4`,
			userID, after.CreatedAt, after.UserID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("フォロー中一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var edges []model.FollowEdge
	for rows.Next() {
		edge := model.FollowEdge{FollowerID: userID}
		if err := rows.Scan(&edge.FolloweeID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("フォロー中行の読み取りに失敗しました: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロー中一覧の走査に失敗しました: %w", err)
	}
	return edges, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)

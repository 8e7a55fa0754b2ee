package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chirp/internal/model"
)

// PostgresLikeRepo はPostgreSQLを使用したいいねリポジトリ。
// likesは投稿ごとにネストせずフラットなテーブルとして保持し、IDのみで横断検索できる。
type PostgresLikeRepo struct {
	db *sql.DB
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// FindByID はリアクションIDでいいねを取得する。見つからない場合はnilを返す。
func (r *PostgresLikeRepo) FindByID(ctx context.Context, id string) (*model.Like, error) {
	like := &model.Like{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tweet_id, author_id, created_at FROM likes WHERE id = $1`,
		id,
	).Scan(&like.ID, &like.TweetID, &like.AuthorID, &like.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("いいねの取得に失敗しました: %w", err)
	}
	return like, nil
}

// FindByTweetAndAuthor は投稿IDとユーザーIDでいいねを検索する。見つからない場合はnilを返す。
func (r *PostgresLikeRepo) FindByTweetAndAuthor(ctx context.Context, tweetID, authorID string) (*model.Like, error) {
	like := &model.Like{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tweet_id, author_id, created_at FROM likes WHERE tweet_id = $1 AND author_id = $2`,
		tweetID, authorID,
	).Scan(&like.ID, &like.TweetID, &like.AuthorID, &like.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿とユーザーによるいいねの検索に失敗しました: %w", err)
	}
	return like, nil
}

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// FindByID はリアクションIDでコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	comment := &model.Comment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tweet_id, author_id, text, created_at FROM comments WHERE id = $1`,
		id,
	).Scan(&comment.ID, &comment.TweetID, &comment.AuthorID, &comment.Text, &comment.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return comment, nil
}

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

// FindByID はアクティビティIDでブックマークを取得する。見つからない場合はnilを返す。
func (r *PostgresBookmarkRepo) FindByID(ctx context.Context, id string) (*model.Bookmark, error) {
	bookmark := &model.Bookmark{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tweet_id, author_id, created_at FROM bookmarks WHERE id = $1`,
		id,
	).Scan(&bookmark.ID, &bookmark.TweetID, &bookmark.AuthorID, &bookmark.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ブックマークの取得に失敗しました: %w", err)
	}
	return bookmark, nil
}

// FindByTweetAndAuthor は投稿IDとユーザーIDでブックマークを検索する。見つからない場合はnilを返す。
func (r *PostgresBookmarkRepo) FindByTweetAndAuthor(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error) {
	bookmark := &model.Bookmark{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tweet_id, author_id, created_at FROM bookmarks WHERE tweet_id = $1 AND author_id = $2`,
		tweetID, authorID,
	).Scan(&bookmark.ID, &bookmark.TweetID, &bookmark.AuthorID, &bookmark.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿とユーザーによるブックマークの検索に失敗しました: %w", err)
	}
	return bookmark, nil
}

// compile-time interface check
var (
	_ LikeRepository     = (*PostgresLikeRepo)(nil)
	_ CommentRepository  = (*PostgresCommentRepo)(nil)
	_ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
)

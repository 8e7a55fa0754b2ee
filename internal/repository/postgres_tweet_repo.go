package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chirp/internal/model"
)

const tweetColumns = `id, author_id, text, created_at, likes_count, comments_count, deleted_at`

func scanTweet(row rowScanner) (*model.Tweet, error) {
	tweet := &model.Tweet{}
	var deletedAt sql.NullTime
	err := row.Scan(
		&tweet.ID, &tweet.AuthorID, &tweet.Text, &tweet.CreatedAt,
		&tweet.Meta.LikesCount, &tweet.Meta.CommentsCount, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		tweet.DeletedAt = &deletedAt.Time
	}
	return tweet, nil
}

// PostgresTweetRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresTweetRepo struct {
	db *sql.DB
}

// NewPostgresTweetRepo はPostgresTweetRepoを生成する。
func NewPostgresTweetRepo(db *sql.DB) *PostgresTweetRepo {
	return &PostgresTweetRepo{db: db}
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresTweetRepo) FindByID(ctx context.Context, id string) (*model.Tweet, error) {
	tweet, err := scanTweet(r.db.QueryRowContext(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return tweet, nil
}

// compile-time interface check
var _ TweetRepository = (*PostgresTweetRepo)(nil)

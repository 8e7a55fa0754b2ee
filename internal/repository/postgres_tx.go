package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/chirp/internal/model"
)

const (
	// pgUniqueViolation は一意制約違反のSQLSTATE。
	pgUniqueViolation = "23505"
	// pgSerializationFailure は直列化失敗のSQLSTATE。
	pgSerializationFailure = "40001"
	// pgDeadlockDetected はデッドロック検出のSQLSTATE。
	pgDeadlockDetected = "40P01"

	// initialRetryDelay は再試行の初回待機時間。
	initialRetryDelay = 10 * time.Millisecond
	// maxRetryDelay は再試行待機時間の上限。
	maxRetryDelay = 500 * time.Millisecond
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pgSerializationFailure || pqErr.Code == pgDeadlockDetected
}

// retryDelay は再試行回数に基づく指数バックオフ待機時間を返す。
func retryDelay(attempt int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// PostgresTransactor はSERIALIZABLE分離レベルでトランザクションを実行する。
// 直列化失敗・デッドロック時はmaxRetries回まで楽観的に再実行する。
type PostgresTransactor struct {
	db         *sql.DB
	maxRetries int
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db *sql.DB, maxRetries int) *PostgresTransactor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PostgresTransactor{db: db, maxRetries: maxRetries}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// 開始後は呼び出し元のキャンセルを伝播させず、コミットまたはロールバックまで実行する。
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay(attempt - 1))
		}
		err = t.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (t *PostgresTransactor) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx は*sql.Txを使用したTxの実装。
type pgTx struct {
	tx *sql.Tx
}

func (p *pgTx) FindUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(p.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

func (p *pgTx) UpdateUserCounters(ctx context.Context, id string, social model.SocialDetails, activity model.ActivityDetails) error {
	_, err := p.tx.ExecContext(ctx,
		`UPDATE users SET followers_count = $2, followings_count = $3, tweets_count = $4 WHERE id = $1`,
		id, social.FollowersCount, social.FollowingsCount, activity.TweetsCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update user counters: %w", err)
	}
	return nil
}

func (p *pgTx) FindTweetForUpdate(ctx context.Context, id string) (*model.Tweet, error) {
	tweet, err := scanTweet(p.tx.QueryRowContext(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿のロック取得に失敗しました: %w", err)
	}
	return tweet, nil
}

func (p *pgTx) UpdateTweetMeta(ctx context.Context, id string, meta model.TweetMeta) error {
	_, err := p.tx.ExecContext(ctx,
		`UPDATE tweets SET likes_count = $2, comments_count = $3 WHERE id = $1`,
		id, meta.LikesCount, meta.CommentsCount,
	)
	if err != nil {
		return fmt.Errorf("投稿カウンタの更新に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) CreateTweet(ctx context.Context, tweet *model.Tweet) error {
	_, err := p.tx.ExecContext(ctx,
		`INSERT INTO tweets (id, author_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		tweet.ID, tweet.AuthorID, tweet.Text, tweet.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) MarkTweetDeleted(ctx context.Context, id string, at time.Time) (bool, error) {
	marked, err := p.execAffecting(ctx,
		`UPDATE tweets SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return marked, nil
}

func (p *pgTx) CreateFollowEdge(ctx context.Context, edge model.FollowEdge) error {
	_, err := p.tx.ExecContext(ctx,
		`INSERT INTO followers (user_id, follower_id, created_at) VALUES ($1, $2, $3)`,
		edge.FolloweeID, edge.FollowerID, edge.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("フォロワーレコードの作成に失敗しました: %w", err)
	}

	_, err = p.tx.ExecContext(ctx,
		`INSERT INTO followings (user_id, following_id, created_at) VALUES ($1, $2, $3)`,
		edge.FollowerID, edge.FolloweeID, edge.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("フォロー中レコードの作成に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) DeleteFollowEdge(ctx context.Context, followerID, followeeID string) (bool, bool, error) {
	followerRemoved, err := p.execAffecting(ctx,
		`DELETE FROM followers WHERE user_id = $1 AND follower_id = $2`,
		followeeID, followerID,
	)
	if err != nil {
		return false, false, fmt.Errorf("フォロワーレコードの削除に失敗しました: %w", err)
	}
	followingRemoved, err := p.execAffecting(ctx,
		`DELETE FROM followings WHERE user_id = $1 AND following_id = $2`,
		followerID, followeeID,
	)
	if err != nil {
		return false, false, fmt.Errorf("フォロー中レコードの削除に失敗しました: %w", err)
	}
	return followerRemoved, followingRemoved, nil
}

func (p *pgTx) CreateLike(ctx context.Context, like *model.Like) error {
	_, err := p.tx.ExecContext(ctx,
		`INSERT INTO likes (id, tweet_id, author_id, created_at) VALUES ($1, $2, $3, $4)`,
		like.ID, like.TweetID, like.AuthorID, like.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("いいねの作成に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) DeleteLike(ctx context.Context, id string) (bool, error) {
	removed, err := p.execAffecting(ctx, `DELETE FROM likes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}
	return removed, nil
}

func (p *pgTx) CreateComment(ctx context.Context, comment *model.Comment) error {
	_, err := p.tx.ExecContext(ctx,
		`INSERT INTO comments (id, tweet_id, author_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.TweetID, comment.AuthorID, comment.Text, comment.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) DeleteComment(ctx context.Context, id string) (bool, error) {
	removed, err := p.execAffecting(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	return removed, nil
}

func (p *pgTx) CreateBookmark(ctx context.Context, bookmark *model.Bookmark) error {
	_, err := p.tx.ExecContext(ctx,
		`INSERT INTO bookmarks (id, tweet_id, author_id, created_at) VALUES ($1, $2, $3, $4)`,
		bookmark.ID, bookmark.TweetID, bookmark.AuthorID, bookmark.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("ブックマークの作成に失敗しました: %w", err)
	}
	return nil
}

func (p *pgTx) DeleteBookmark(ctx context.Context, id string) (bool, error) {
	removed, err := p.execAffecting(ctx, `DELETE FROM bookmarks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ブックマークの削除に失敗しました: %w", err)
	}
	return removed, nil
}

// execAffecting は更新系SQLを実行し、1行以上に作用したかを返す。
func (p *pgTx) execAffecting(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := p.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// compile-time interface check
var (
	_ Transactor = (*PostgresTransactor)(nil)
	_ Tx         = (*pgTx)(nil)
)

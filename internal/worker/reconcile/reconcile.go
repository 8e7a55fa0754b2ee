// Package reconcile は非正規化カウンタの定期再計算ジョブを提供する。
// エッジ・投稿・リアクションの行数からカウンタを数え直し、ずれている行だけを更新する。
// ストア内部で完結し、アクティビティフィードには触れない。
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chirp/internal/counter"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RepairRecorder は修復件数を記録するメトリクスの部分集合。
type RepairRecorder interface {
	RecordCounterRepaired(counter string, count int)
}

// repair は1種類のカウンタを数え直すUPDATE文。
type repair struct {
	counter string
	query   string
}

var repairs = []repair{
	{
		counter: string(counter.Followers),
		query: `UPDATE users u SET followers_count = c.n
			FROM (SELECT u2.id, COUNT(f.follower_id) AS n
			      FROM users u2 LEFT JOIN followers f ON f.user_id = u2.id
			      GROUP BY u2.id) c
			WHERE u.id = c.id AND u.followers_count <> c.n`,
	},
	{
		counter: string(counter.Followings),
		query: `UPDATE users u SET followings_count = c.n
			FROM (SELECT u2.id, COUNT(f.following_id) AS n
			      FROM users u2 LEFT JOIN followings f ON f.user_id = u2.id
			      GROUP BY u2.id) c
			WHERE u.id = c.id AND u.followings_count <> c.n`,
	},
	{
		counter: string(counter.Tweets),
		query: `UPDATE users u SET tweets_count = c.n
			FROM (SELECT u2.id, COUNT(t.id) AS n
			      FROM users u2 LEFT JOIN tweets t ON t.author_id = u2.id AND t.deleted_at IS NULL
			      GROUP BY u2.id) c
			WHERE u.id = c.id AND u.tweets_count <> c.n`,
	},
	{
		counter: string(counter.Likes),
		query: `UPDATE tweets t SET likes_count = c.n
			FROM (SELECT t2.id, COUNT(l.id) AS n
			      FROM tweets t2 LEFT JOIN likes l ON l.tweet_id = t2.id
			      GROUP BY t2.id) c
			WHERE t.id = c.id AND t.likes_count <> c.n`,
	},
	{
		counter: string(counter.Comments),
		query: `UPDATE tweets t SET comments_count = c.n
			FROM (SELECT t2.id, COUNT(cm.id) AS n
			      FROM tweets t2 LEFT JOIN comments cm ON cm.tweet_id = t2.id
			      GROUP BY t2.id) c
			WHERE t.id = c.id AND t.comments_count <> c.n`,
	},
}

// Job はカウンタ再計算ジョブ。冪等で、ずれがなければ何も更新しない。
type Job struct {
	db      Executor
	metrics RepairRecorder
	logger  *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(db Executor, metrics RepairRecorder, logger *slog.Logger) *Job {
	return &Job{db: db, metrics: metrics, logger: logger}
}

// Run は全カウンタを1回ずつ再計算する。
// 1種類の失敗で残りを止めず、全ての失敗をまとめて返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	var (
		errs     []error
		repaired int64
	)
	for _, r := range repairs {
		n, err := j.runOne(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repaired += n
	}

	j.logger.Info("カウンタ再計算ジョブが完了しました",
		slog.Int64("repaired_rows", repaired),
		slog.Int("failed_counters", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

func (j *Job) runOne(ctx context.Context, r repair) (int64, error) {
	result, err := j.db.ExecContext(ctx, r.query)
	if err != nil {
		j.logger.Error("カウンタの再計算に失敗しました",
			slog.String("counter", r.counter),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sカウンタの再計算に失敗: %w", r.counter, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%sカウンタの更新件数の取得に失敗: %w", r.counter, err)
	}
	if n > 0 {
		j.logger.Warn("カウンタのずれを修復しました",
			slog.String("counter", r.counter),
			slog.Int64("rows", n),
		)
		j.metrics.RecordCounterRepaired(r.counter, int(n))
	}
	return n, nil
}

// Start は起動直後と以降interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("カウンタ再計算ワーカーを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("カウンタ再計算ワーカーを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("カウンタ再計算サイクルの実行に失敗しました", slog.String("error", err.Error()))
	}
}

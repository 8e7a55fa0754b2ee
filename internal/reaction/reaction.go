// Package reaction は投稿へのいいね・コメント・ブックマークの作成と削除を提供する。
// いずれもフィードサービスで正規IDを得てから、ストアの行と投稿カウンタを1トランザクションで更新する。
package reaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

// Deps は各リアクションサービスが共有する依存。
type Deps struct {
	Users    repository.UserRepository
	Tweets   repository.TweetRepository
	Tx       repository.Transactor
	Feed     activity.Service
	Counters *counter.Maintainer
	Logger   *slog.Logger
	Metrics  metrics.MetricsCollector
}

type base struct {
	Deps
	now func() time.Time
}

func newBase(d Deps) base {
	return base{Deps: d, now: time.Now}
}

// requireTweet は有効な（トゥームストーン化されていない）投稿を返す。
func (b *base) requireTweet(ctx context.Context, tweetID string) (*model.Tweet, error) {
	tweet, err := b.Tweets.FindByID(ctx, tweetID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if tweet == nil || tweet.IsDeleted() {
		return nil, model.NewTweetNotFoundError(tweetID)
	}
	return tweet, nil
}

func (b *base) requireAuthor(ctx context.Context, userID string) error {
	user, err := b.Users.FindByID(ctx, userID)
	if err != nil {
		return model.NewStoreError(err)
	}
	if user == nil {
		return model.NewAuthorDoesNotExistError(userID)
	}
	return nil
}

// reject は事前条件違反を記録してerrをそのまま返す。
func (b *base) reject(op string, err error) error {
	if model.KindOf(err) == model.KindExternalServiceFailure {
		b.Metrics.RecordMutation(op, metrics.OutcomeStoreFailure)
	} else {
		b.Metrics.RecordMutation(op, metrics.OutcomeRejected)
	}
	return err
}

func (b *base) feedFailure(op string, err error, attrs ...slog.Attr) error {
	args := []any{slog.String("operation", op), slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	b.Logger.Warn("フィードサービスの更新に失敗しました", args...)
	b.Metrics.RecordMutation(op, metrics.OutcomeFeedFailure)
	return model.NewFeedServiceError(err)
}

// divergence はフィード更新後のストア失敗を記録する。補償処理は行わない。
func (b *base) divergence(op string, err error, attrs ...slog.Attr) error {
	args := []any{slog.String("operation", op), slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	b.Logger.Error("フィード更新後にストア更新が失敗しました", args...)
	b.Metrics.RecordDualWriteDivergence(op)
	b.Metrics.RecordMutation(op, metrics.OutcomeStoreFailure)
	return model.NewStoreError(err)
}

// removeFromFeed はフィードからの削除を行う。既に存在しない場合は成功として扱い、
// 前回ストア更新だけが失敗した削除を再実行で完了できるようにする。
func (b *base) removeFromFeed(ctx context.Context, op string, remove func(ctx context.Context) error, attrs ...slog.Attr) error {
	err := remove(ctx)
	if err == nil {
		return nil
	}
	if activity.IsNotFound(err) {
		args := []any{slog.String("operation", op)}
		for _, a := range attrs {
			args = append(args, a)
		}
		b.Logger.Warn("フィード上に対象が存在しないためストアのみ更新します", args...)
		return nil
	}
	return b.feedFailure(op, err, attrs...)
}

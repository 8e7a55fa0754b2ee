// Package counter はユーザー・投稿の非正規化カウンタを呼び出し元のトランザクション内で更新する。
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/repository"
)

// ErrTargetMissing は更新対象のユーザーまたは投稿が存在しないことを表す。
var ErrTargetMissing = errors.New("counter target does not exist")

// UserCounter はユーザー側のカウンタ種別。
type UserCounter string

const (
	Followers  UserCounter = "followers"
	Followings UserCounter = "followings"
	Tweets     UserCounter = "tweets"
)

// TweetCounter は投稿側のカウンタ種別。
type TweetCounter string

const (
	Likes    TweetCounter = "likes"
	Comments TweetCounter = "comments"
)

// Clamp はcurrentにdeltaを加算し、0未満になる場合は0に丸める。
// 丸めが発生した場合はclampedにtrueを返す。
func Clamp(current, delta int) (next int, clamped bool) {
	next = current + delta
	if next < 0 {
		return 0, true
	}
	return next, false
}

// Maintainer はカウンタの増減を行う。
// 対象行を行ロック付きで読み直してから書き戻すため、同時更新で値が失われない。
type Maintainer struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewMaintainer はMaintainerを生成する。
func NewMaintainer(logger *slog.Logger, m metrics.MetricsCollector) *Maintainer {
	return &Maintainer{logger: logger, metrics: m}
}

// IncrementUser はユーザーのカウンタを1増やす。
func (m *Maintainer) IncrementUser(ctx context.Context, tx repository.Tx, userID string, c UserCounter) error {
	return m.applyUser(ctx, tx, userID, c, 1)
}

// DecrementUser はユーザーのカウンタを1減らす。0未満にはならない。
func (m *Maintainer) DecrementUser(ctx context.Context, tx repository.Tx, userID string, c UserCounter) error {
	return m.applyUser(ctx, tx, userID, c, -1)
}

// IncrementTweet は投稿のカウンタを1増やす。
func (m *Maintainer) IncrementTweet(ctx context.Context, tx repository.Tx, tweetID string, c TweetCounter) error {
	return m.applyTweet(ctx, tx, tweetID, c, 1)
}

// DecrementTweet は投稿のカウンタを1減らす。0未満にはならない。
func (m *Maintainer) DecrementTweet(ctx context.Context, tx repository.Tx, tweetID string, c TweetCounter) error {
	return m.applyTweet(ctx, tx, tweetID, c, -1)
}

func (m *Maintainer) applyUser(ctx context.Context, tx repository.Tx, userID string, c UserCounter, delta int) error {
	user, err := tx.FindUserForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, ErrTargetMissing)
	}

	social := user.SocialDetails
	activity := user.ActivityDetails
	var field *int
	switch c {
	case Followers:
		field = &social.FollowersCount
	case Followings:
		field = &social.FollowingsCount
	case Tweets:
		field = &activity.TweetsCount
	default:
		return fmt.Errorf("unknown user counter %q", c)
	}

	next, clamped := Clamp(*field, delta)
	if clamped {
		m.reportClamped(string(c), "user_id", userID, *field)
	}
	*field = next

	return tx.UpdateUserCounters(ctx, userID, social, activity)
}

func (m *Maintainer) applyTweet(ctx context.Context, tx repository.Tx, tweetID string, c TweetCounter, delta int) error {
	tweet, err := tx.FindTweetForUpdate(ctx, tweetID)
	if err != nil {
		return err
	}
	if tweet == nil {
		return fmt.Errorf("tweet %s: %w", tweetID, ErrTargetMissing)
	}

	meta := tweet.Meta
	var field *int
	switch c {
	case Likes:
		field = &meta.LikesCount
	case Comments:
		field = &meta.CommentsCount
	default:
		return fmt.Errorf("unknown tweet counter %q", c)
	}

	next, clamped := Clamp(*field, delta)
	if clamped {
		m.reportClamped(string(c), "tweet_id", tweetID, *field)
	}
	*field = next

	return tx.UpdateTweetMeta(ctx, tweetID, meta)
}

// reportClamped は減算の打ち止めを記録する。ドリフトの兆候であり、整合ジョブで修復される。
func (m *Maintainer) reportClamped(counter, idKey, id string, current int) {
	m.logger.Warn("カウンタの減算を0で打ち止めしました",
		slog.String("counter", counter),
		slog.String(idKey, id),
		slog.Int("current", current),
	)
	m.metrics.RecordCounterClamped(counter)
}

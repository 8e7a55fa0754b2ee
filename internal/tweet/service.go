// Package tweet は投稿の作成・削除・取得を提供する。
package tweet

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
	"github.com/hitoshi/chirp/internal/security"
)

const (
	opTweetCreate = "tweet_create"
	opTweetDelete = "tweet_delete"

	// ObjectTweet は投稿アクティビティのobject値。
	ObjectTweet = "tweet"
)

// Service は投稿のコーディネーター。
type Service struct {
	users     repository.UserRepository
	tweets    repository.TweetRepository
	tx        repository.Transactor
	feed      activity.Service
	counters  *counter.Maintainer
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	tweets repository.TweetRepository,
	tx repository.Transactor,
	feed activity.Service,
	counters *counter.Maintainer,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	return &Service{
		users:     users,
		tweets:    tweets,
		tx:        tx,
		feed:      feed,
		counters:  counters,
		sanitizer: sanitizer,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create はauthorIDの投稿を作成する。
// 投稿IDはauthorのuserフィードに追加したアクティビティのIDになる。
func (s *Service) Create(ctx context.Context, authorID, text string) (*model.Tweet, error) {
	clean, err := s.sanitizer.Clean(text)
	if err != nil {
		s.metrics.RecordMutation(opTweetCreate, metrics.OutcomeRejected)
		return nil, model.NewInvalidInputError(err.Error())
	}

	author, err := s.users.FindByID(ctx, authorID)
	if err != nil {
		s.metrics.RecordMutation(opTweetCreate, metrics.OutcomeStoreFailure)
		return nil, model.NewStoreError(err)
	}
	if author == nil {
		s.metrics.RecordMutation(opTweetCreate, metrics.OutcomeRejected)
		return nil, model.NewAuthorDoesNotExistError(authorID)
	}

	act, err := s.feed.AddActivity(ctx, activity.UserFeed(authorID), activity.Activity{
		Actor:     authorID,
		Verb:      activity.VerbTweet,
		Object:    ObjectTweet,
		ForeignID: "tweet:" + s.newID(),
		Time:      s.now(),
	})
	if err != nil {
		s.logger.Warn("投稿アクティビティの追加に失敗しました",
			slog.String("author_id", authorID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMutation(opTweetCreate, metrics.OutcomeFeedFailure)
		return nil, model.NewFeedServiceError(err)
	}

	tweet := &model.Tweet{ID: act.ID, Text: clean, AuthorID: authorID, CreatedAt: act.Time}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateTweet(ctx, tweet); err != nil {
			return err
		}
		return s.counters.IncrementUser(ctx, tx, authorID, counter.Tweets)
	})
	if err != nil {
		return nil, s.divergence(opTweetCreate, tweet.ID, err)
	}

	s.metrics.RecordMutation(opTweetCreate, metrics.OutcomeSuccess)
	s.logger.Info("投稿を作成しました",
		slog.String("tweet_id", tweet.ID),
		slog.String("author_id", authorID),
	)
	return tweet, nil
}

// Delete は投稿を削除する。投稿者本人のみ削除できる。
// 行はトゥームストーンとして残り、以降は存在しない投稿として扱われる。
func (s *Service) Delete(ctx context.Context, tweetID, actorID string) error {
	tweet, err := s.Get(ctx, tweetID)
	if err != nil {
		s.recordFailure(opTweetDelete, err)
		return err
	}
	if tweet.AuthorID != actorID {
		s.metrics.RecordMutation(opTweetDelete, metrics.OutcomeRejected)
		return model.NewNotOwnerError()
	}

	err = s.feed.RemoveActivity(ctx, activity.UserFeed(tweet.AuthorID), tweetID)
	switch {
	case activity.IsNotFound(err):
		s.logger.Warn("フィード上に投稿が存在しないためストアのみ更新します", slog.String("tweet_id", tweetID))
	case err != nil:
		s.logger.Warn("投稿アクティビティの削除に失敗しました",
			slog.String("tweet_id", tweetID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMutation(opTweetDelete, metrics.OutcomeFeedFailure)
		return model.NewFeedServiceError(err)
	}

	// 並行した削除が先にトゥームストーン化した場合はtweetsCountを減らさない。
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		marked, err := tx.MarkTweetDeleted(ctx, tweetID, s.now())
		if err != nil {
			return err
		}
		if !marked {
			return model.NewTweetNotFoundError(tweetID)
		}
		return s.counters.DecrementUser(ctx, tx, tweet.AuthorID, counter.Tweets)
	})
	if model.KindOf(err) == model.KindNotFound {
		s.metrics.RecordMutation(opTweetDelete, metrics.OutcomeRejected)
		return err
	}
	if err != nil {
		return s.divergence(opTweetDelete, tweetID, err)
	}

	s.metrics.RecordMutation(opTweetDelete, metrics.OutcomeSuccess)
	s.logger.Info("投稿を削除しました", slog.String("tweet_id", tweetID))
	return nil
}

// Get は有効な投稿を返す。削除済みの投稿はTWEET_NOT_FOUNDになる。
func (s *Service) Get(ctx context.Context, tweetID string) (*model.Tweet, error) {
	tweet, err := s.tweets.FindByID(ctx, tweetID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if tweet == nil || tweet.IsDeleted() {
		return nil, model.NewTweetNotFoundError(tweetID)
	}
	return tweet, nil
}

func (s *Service) recordFailure(op string, err error) {
	outcome := metrics.OutcomeRejected
	if model.KindOf(err) == model.KindExternalServiceFailure {
		outcome = metrics.OutcomeStoreFailure
	}
	s.metrics.RecordMutation(op, outcome)
}

func (s *Service) divergence(op, tweetID string, err error) error {
	s.logger.Error("フィード更新後にストア更新が失敗しました",
		slog.String("operation", op),
		slog.String("tweet_id", tweetID),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordDualWriteDivergence(op)
	s.metrics.RecordMutation(op, metrics.OutcomeStoreFailure)
	return model.NewStoreError(err)
}

package reaction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

const (
	opLike   = "like"
	opUnlike = "unlike"
)

// LikeService はいいねのコーディネーター。
type LikeService struct {
	base
	likes repository.LikeRepository
}

// NewLikeService はLikeServiceを生成する。
func NewLikeService(d Deps, likes repository.LikeRepository) *LikeService {
	return &LikeService{base: newBase(d), likes: likes}
}

// Like はauthorIDとしてtweetIDにいいねする。
func (s *LikeService) Like(ctx context.Context, tweetID, authorID string) (*model.Like, error) {
	if _, err := s.requireTweet(ctx, tweetID); err != nil {
		return nil, s.reject(opLike, err)
	}
	if err := s.requireAuthor(ctx, authorID); err != nil {
		return nil, s.reject(opLike, err)
	}
	liked, err := s.HasLiked(ctx, tweetID, authorID)
	if err != nil {
		return nil, s.reject(opLike, err)
	}
	if liked {
		return nil, s.reject(opLike, model.NewLikeAlreadyExistsError())
	}

	r, err := s.Feed.AddReaction(ctx, activity.Reaction{
		Kind:       activity.KindLike,
		ActivityID: tweetID,
		UserID:     authorID,
	})
	if err != nil {
		return nil, s.feedFailure(opLike, err, slog.String("tweet_id", tweetID), slog.String("author_id", authorID))
	}

	like := &model.Like{ID: r.ID, TweetID: tweetID, AuthorID: authorID, CreatedAt: r.CreatedAt}
	if like.CreatedAt.IsZero() {
		like.CreatedAt = s.now()
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateLike(ctx, like); err != nil {
			return err
		}
		return s.Counters.IncrementTweet(ctx, tx, tweetID, counter.Likes)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// 並行したいいねが先に保存された。今回のリアクションはフィード上に余分に残る。
		s.divergence(opLike, err, slog.String("tweet_id", tweetID), slog.String("reaction_id", r.ID))
		return nil, model.NewLikeAlreadyExistsError()
	}
	if err != nil {
		return nil, s.divergence(opLike, err, slog.String("tweet_id", tweetID), slog.String("reaction_id", r.ID))
	}

	s.Metrics.RecordMutation(opLike, metrics.OutcomeSuccess)
	return like, nil
}

// Unlike はいいねIDを指定して取り消す。いいねした本人のみ取り消せる。
func (s *LikeService) Unlike(ctx context.Context, likeID, actorID string) error {
	like, err := s.likes.FindByID(ctx, likeID)
	if err != nil {
		return s.reject(opUnlike, model.NewStoreError(err))
	}
	if like == nil {
		return s.reject(opUnlike, model.NewLikeNotFoundError(likeID))
	}
	return s.remove(ctx, like, actorID)
}

// UnlikeTweet はactorIDによるtweetIDへのいいねを取り消す。
func (s *LikeService) UnlikeTweet(ctx context.Context, tweetID, actorID string) error {
	like, err := s.likes.FindByTweetAndAuthor(ctx, tweetID, actorID)
	if err != nil {
		return s.reject(opUnlike, model.NewStoreError(err))
	}
	if like == nil {
		return s.reject(opUnlike, model.NewLikeNotFoundError(tweetID))
	}
	return s.remove(ctx, like, actorID)
}

// HasLiked はuserIDがtweetIDにいいねしているかを返す。
func (s *LikeService) HasLiked(ctx context.Context, tweetID, userID string) (bool, error) {
	like, err := s.likes.FindByTweetAndAuthor(ctx, tweetID, userID)
	if err != nil {
		return false, model.NewStoreError(err)
	}
	return like != nil, nil
}

func (s *LikeService) remove(ctx context.Context, like *model.Like, actorID string) error {
	if like.AuthorID != actorID {
		return s.reject(opUnlike, model.NewNotOwnerError())
	}

	attrs := []slog.Attr{slog.String("like_id", like.ID), slog.String("tweet_id", like.TweetID)}
	err := s.removeFromFeed(ctx, opUnlike, func(ctx context.Context) error {
		return s.Feed.DeleteReaction(ctx, like.ID)
	}, attrs...)
	if err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		removed, err := tx.DeleteLike(ctx, like.ID)
		if err != nil {
			return err
		}
		if !removed {
			return model.NewLikeNotFoundError(like.ID)
		}
		return s.Counters.DecrementTweet(ctx, tx, like.TweetID, counter.Likes)
	})
	if model.KindOf(err) == model.KindNotFound {
		return s.reject(opUnlike, err)
	}
	if err != nil {
		return s.divergence(opUnlike, err, attrs...)
	}

	s.Metrics.RecordMutation(opUnlike, metrics.OutcomeSuccess)
	return nil
}

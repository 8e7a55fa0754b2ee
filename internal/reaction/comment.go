package reaction

import (
	"context"
	"log/slog"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
	"github.com/hitoshi/chirp/internal/security"
)

const (
	opCommentAdd    = "comment_add"
	opCommentRemove = "comment_remove"
)

// CommentService はコメントのコーディネーター。
type CommentService struct {
	base
	comments  repository.CommentRepository
	sanitizer security.TextSanitizer
}

// NewCommentService はCommentServiceを生成する。
func NewCommentService(d Deps, comments repository.CommentRepository, sanitizer security.TextSanitizer) *CommentService {
	return &CommentService{base: newBase(d), comments: comments, sanitizer: sanitizer}
}

// Add はtweetIDにコメントを追加する。本文はマークアップを除去して保存する。
func (s *CommentService) Add(ctx context.Context, tweetID, authorID, text string) (*model.Comment, error) {
	clean, err := s.sanitizer.Clean(text)
	if err != nil {
		return nil, s.reject(opCommentAdd, model.NewInvalidInputError(err.Error()))
	}
	if _, err := s.requireTweet(ctx, tweetID); err != nil {
		return nil, s.reject(opCommentAdd, err)
	}
	if err := s.requireAuthor(ctx, authorID); err != nil {
		return nil, s.reject(opCommentAdd, err)
	}

	r, err := s.Feed.AddReaction(ctx, activity.Reaction{
		Kind:       activity.KindComment,
		ActivityID: tweetID,
		UserID:     authorID,
		Data:       map[string]any{"text": clean},
	})
	if err != nil {
		return nil, s.feedFailure(opCommentAdd, err, slog.String("tweet_id", tweetID), slog.String("author_id", authorID))
	}

	comment := &model.Comment{ID: r.ID, TweetID: tweetID, AuthorID: authorID, Text: clean, CreatedAt: r.CreatedAt}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = s.now()
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateComment(ctx, comment); err != nil {
			return err
		}
		return s.Counters.IncrementTweet(ctx, tx, tweetID, counter.Comments)
	})
	if err != nil {
		return nil, s.divergence(opCommentAdd, err, slog.String("tweet_id", tweetID), slog.String("reaction_id", r.ID))
	}

	s.Metrics.RecordMutation(opCommentAdd, metrics.OutcomeSuccess)
	return comment, nil
}

// Remove はコメントを削除する。コメントした本人のみ削除できる。
func (s *CommentService) Remove(ctx context.Context, commentID, actorID string) error {
	comment, err := s.comments.FindByID(ctx, commentID)
	if err != nil {
		return s.reject(opCommentRemove, model.NewStoreError(err))
	}
	if comment == nil {
		return s.reject(opCommentRemove, model.NewCommentNotFoundError(commentID))
	}
	if comment.AuthorID != actorID {
		return s.reject(opCommentRemove, model.NewNotOwnerError())
	}

	attrs := []slog.Attr{slog.String("comment_id", commentID), slog.String("tweet_id", comment.TweetID)}
	err = s.removeFromFeed(ctx, opCommentRemove, func(ctx context.Context) error {
		return s.Feed.DeleteReaction(ctx, commentID)
	}, attrs...)
	if err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		removed, err := tx.DeleteComment(ctx, commentID)
		if err != nil {
			return err
		}
		if !removed {
			return model.NewCommentNotFoundError(commentID)
		}
		return s.Counters.DecrementTweet(ctx, tx, comment.TweetID, counter.Comments)
	})
	if model.KindOf(err) == model.KindNotFound {
		return s.reject(opCommentRemove, err)
	}
	if err != nil {
		return s.divergence(opCommentRemove, err, attrs...)
	}

	s.Metrics.RecordMutation(opCommentRemove, metrics.OutcomeSuccess)
	return nil
}

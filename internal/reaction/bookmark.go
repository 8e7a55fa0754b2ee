package reaction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

const (
	opBookmarkAdd    = "bookmark_add"
	opBookmarkRemove = "bookmark_remove"
)

// BookmarkService はブックマークのコーディネーター。
// ブックマークはユーザーごとのbookmarksフィードのアクティビティとして保持し、投稿カウンタは持たない。
type BookmarkService struct {
	base
	bookmarks repository.BookmarkRepository
}

// NewBookmarkService はBookmarkServiceを生成する。
func NewBookmarkService(d Deps, bookmarks repository.BookmarkRepository) *BookmarkService {
	return &BookmarkService{base: newBase(d), bookmarks: bookmarks}
}

// BookmarkForeignID は投稿のブックマークアクティビティのforeign_idを返す。
func BookmarkForeignID(tweetID string) string {
	return "bookmark:" + tweetID
}

// Add はauthorIDのブックマークにtweetIDを追加する。
func (s *BookmarkService) Add(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error) {
	if _, err := s.requireTweet(ctx, tweetID); err != nil {
		return nil, s.reject(opBookmarkAdd, err)
	}
	if err := s.requireAuthor(ctx, authorID); err != nil {
		return nil, s.reject(opBookmarkAdd, err)
	}
	bookmarked, err := s.HasBookmarked(ctx, tweetID, authorID)
	if err != nil {
		return nil, s.reject(opBookmarkAdd, err)
	}
	if bookmarked {
		return nil, s.reject(opBookmarkAdd, model.NewBookmarkAlreadyExistsError())
	}

	act, err := s.Feed.AddActivity(ctx, activity.BookmarksFeed(authorID), activity.Activity{
		Actor:     authorID,
		Verb:      activity.VerbBookmark,
		Object:    activity.TweetObject(tweetID),
		ForeignID: BookmarkForeignID(tweetID),
		Time:      s.now(),
	})
	if err != nil {
		return nil, s.feedFailure(opBookmarkAdd, err, slog.String("tweet_id", tweetID), slog.String("author_id", authorID))
	}

	bookmark := &model.Bookmark{ID: act.ID, TweetID: tweetID, AuthorID: authorID, CreatedAt: act.Time}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateBookmark(ctx, bookmark)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		s.divergence(opBookmarkAdd, err, slog.String("tweet_id", tweetID), slog.String("activity_id", act.ID))
		return nil, model.NewBookmarkAlreadyExistsError()
	}
	if err != nil {
		return nil, s.divergence(opBookmarkAdd, err, slog.String("tweet_id", tweetID), slog.String("activity_id", act.ID))
	}

	s.Metrics.RecordMutation(opBookmarkAdd, metrics.OutcomeSuccess)
	return bookmark, nil
}

// Remove はブックマークIDを指定して削除する。ブックマークした本人のみ削除できる。
func (s *BookmarkService) Remove(ctx context.Context, bookmarkID, actorID string) error {
	bookmark, err := s.bookmarks.FindByID(ctx, bookmarkID)
	if err != nil {
		return s.reject(opBookmarkRemove, model.NewStoreError(err))
	}
	if bookmark == nil {
		return s.reject(opBookmarkRemove, model.NewBookmarkNotFoundError(bookmarkID))
	}
	return s.remove(ctx, bookmark, actorID)
}

// RemoveTweet はactorIDのブックマークからtweetIDを削除する。
func (s *BookmarkService) RemoveTweet(ctx context.Context, tweetID, actorID string) error {
	bookmark, err := s.bookmarks.FindByTweetAndAuthor(ctx, tweetID, actorID)
	if err != nil {
		return s.reject(opBookmarkRemove, model.NewStoreError(err))
	}
	if bookmark == nil {
		return s.reject(opBookmarkRemove, model.NewBookmarkNotFoundError(tweetID))
	}
	return s.remove(ctx, bookmark, actorID)
}

// HasBookmarked はuserIDがtweetIDをブックマークしているかを返す。
func (s *BookmarkService) HasBookmarked(ctx context.Context, tweetID, userID string) (bool, error) {
	bookmark, err := s.bookmarks.FindByTweetAndAuthor(ctx, tweetID, userID)
	if err != nil {
		return false, model.NewStoreError(err)
	}
	return bookmark != nil, nil
}

func (s *BookmarkService) remove(ctx context.Context, bookmark *model.Bookmark, actorID string) error {
	if bookmark.AuthorID != actorID {
		return s.reject(opBookmarkRemove, model.NewNotOwnerError())
	}

	attrs := []slog.Attr{slog.String("bookmark_id", bookmark.ID), slog.String("tweet_id", bookmark.TweetID)}
	err := s.removeFromFeed(ctx, opBookmarkRemove, func(ctx context.Context) error {
		return s.Feed.RemoveActivity(ctx, activity.BookmarksFeed(bookmark.AuthorID), bookmark.ID)
	}, attrs...)
	if err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		removed, err := tx.DeleteBookmark(ctx, bookmark.ID)
		if err != nil {
			return err
		}
		if !removed {
			return model.NewBookmarkNotFoundError(bookmark.ID)
		}
		return nil
	})
	if model.KindOf(err) == model.KindNotFound {
		return s.reject(opBookmarkRemove, err)
	}
	if err != nil {
		return s.divergence(opBookmarkRemove, err, attrs...)
	}

	s.Metrics.RecordMutation(opBookmarkRemove, metrics.OutcomeSuccess)
	return nil
}

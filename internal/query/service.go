// Package query は一覧・詳細の読み取りを組み立てる。
// ページ取得と参照解決をpaginationで行い、結果をviewableで閲覧者相対に投影する。
package query

import (
	"context"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
	"github.com/hitoshi/chirp/internal/repository"
	"github.com/hitoshi/chirp/internal/viewable"
)

// 読み取りでは常に閲覧者の存在を確認する。
var checked = viewable.Options{EnableViewerCheck: true}

// Service は読み取り側のサービス。
type Service struct {
	users    repository.UserRepository
	tweets   repository.TweetRepository
	follows  repository.FollowRepository
	likes    repository.LikeRepository
	comments repository.CommentRepository
	feed     activity.Service
	engine   *viewable.Engine
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	tweets repository.TweetRepository,
	follows repository.FollowRepository,
	likes repository.LikeRepository,
	comments repository.CommentRepository,
	feed activity.Service,
	engine *viewable.Engine,
) *Service {
	return &Service{
		users:    users,
		tweets:   tweets,
		follows:  follows,
		likes:    likes,
		comments: comments,
		feed:     feed,
		engine:   engine,
	}
}

// User はユーザーの詳細を返す。
func (s *Service) User(ctx context.Context, userID, viewerID string) (*model.ViewableUser, error) {
	u, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.engine.User(ctx, *u, viewerID, checked)
}

// Tweet は投稿の詳細を返す。削除済みの投稿はTWEET_NOT_FOUNDになる。
func (s *Service) Tweet(ctx context.Context, tweetID, viewerID string) (*model.ViewableTweet, error) {
	t, err := s.requireTweet(ctx, tweetID)
	if err != nil {
		return nil, err
	}
	return s.engine.Tweet(ctx, *t, viewerID, checked)
}

// Followers はuserIDのフォロワー一覧を返す。
func (s *Service) Followers(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return pagination.Paginated[model.ViewableUser]{}, err
	}
	list := func(ctx context.Context, after *repository.EdgeCursor, limit int) ([]model.FollowEdge, error) {
		return s.follows.ListFollowers(ctx, userID, after, limit)
	}
	key := func(e model.FollowEdge) string { return e.FollowerID }
	page, err := pagination.FromEdges(ctx, list, key, req, s.edgeUser(key))
	return project(ctx, page, err, viewerID, s.engine.Users)
}

// Followings はuserIDがフォローしているユーザー一覧を返す。
func (s *Service) Followings(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return pagination.Paginated[model.ViewableUser]{}, err
	}
	list := func(ctx context.Context, after *repository.EdgeCursor, limit int) ([]model.FollowEdge, error) {
		return s.follows.ListFollowings(ctx, userID, after, limit)
	}
	key := func(e model.FollowEdge) string { return e.FolloweeID }
	page, err := pagination.FromEdges(ctx, list, key, req, s.edgeUser(key))
	return project(ctx, page, err, viewerID, s.engine.Users)
}

// UserTweets はuserIDの投稿一覧を返す。
func (s *Service) UserTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return pagination.Paginated[model.ViewableTweet]{}, err
	}
	page, err := pagination.FromActivities(ctx, s.feed, activity.UserFeed(userID), req, s.tweetActivity)
	return project(ctx, page, err, viewerID, s.engine.Tweets)
}

// Timeline は閲覧者のタイムラインを返す。
func (s *Service) Timeline(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	page, err := pagination.FromActivities(ctx, s.feed, activity.TimelineFeed(viewerID), req, s.tweetActivity)
	return project(ctx, page, err, viewerID, s.engine.Tweets)
}

// Bookmarks は閲覧者のブックマークした投稿一覧を返す。
func (s *Service) Bookmarks(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	page, err := pagination.FromActivities(ctx, s.feed, activity.BookmarksFeed(viewerID), req, s.bookmarkActivity)
	return project(ctx, page, err, viewerID, s.engine.Tweets)
}

// LikedTweets はuserIDがいいねした投稿一覧を返す。
func (s *Service) LikedTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return pagination.Paginated[model.ViewableTweet]{}, err
	}
	filter := activity.ReactionFilter{Kind: activity.KindLike, UserID: userID}
	page, err := pagination.FromReactions(ctx, s.feed, filter, req, func(ctx context.Context, r activity.Reaction) (*model.Tweet, error) {
		return s.tweets.FindByID(ctx, r.ActivityID)
	})
	return project(ctx, page, err, viewerID, s.engine.Tweets)
}

// TweetLikes は投稿へのいいね一覧を返す。
func (s *Service) TweetLikes(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableLike], error) {
	if _, err := s.requireTweet(ctx, tweetID); err != nil {
		return pagination.Paginated[model.ViewableLike]{}, err
	}
	filter := activity.ReactionFilter{Kind: activity.KindLike, ActivityID: tweetID}
	page, err := pagination.FromReactions(ctx, s.feed, filter, req, func(ctx context.Context, r activity.Reaction) (*model.Like, error) {
		return s.likes.FindByID(ctx, r.ID)
	})
	return project(ctx, page, err, viewerID, s.engine.Likes)
}

// TweetComments は投稿へのコメント一覧を返す。
func (s *Service) TweetComments(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableComment], error) {
	if _, err := s.requireTweet(ctx, tweetID); err != nil {
		return pagination.Paginated[model.ViewableComment]{}, err
	}
	filter := activity.ReactionFilter{Kind: activity.KindComment, ActivityID: tweetID}
	page, err := pagination.FromReactions(ctx, s.feed, filter, req, func(ctx context.Context, r activity.Reaction) (*model.Comment, error) {
		return s.comments.FindByID(ctx, r.ID)
	})
	return project(ctx, page, err, viewerID, s.engine.Comments)
}

func (s *Service) requireUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return u, nil
}

func (s *Service) requireTweet(ctx context.Context, tweetID string) (*model.Tweet, error) {
	t, err := s.tweets.FindByID(ctx, tweetID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if t == nil || t.IsDeleted() {
		return nil, model.NewTweetNotFoundError(tweetID)
	}
	return t, nil
}

func (s *Service) edgeUser(key pagination.EdgeKey) pagination.Resolver[model.FollowEdge, model.User] {
	return func(ctx context.Context, e model.FollowEdge) (*model.User, error) {
		return s.users.FindByID(ctx, key(e))
	}
}

// tweetActivity は投稿アクティビティを投稿に解決する。アクティビティIDが投稿IDになっている。
func (s *Service) tweetActivity(ctx context.Context, a activity.Activity) (*model.Tweet, error) {
	return s.tweets.FindByID(ctx, a.ID)
}

// bookmarkActivity はブックマークアクティビティのobjectから投稿を解決する。
// 削除済みの投稿もトゥームストーンとして解決される。
func (s *Service) bookmarkActivity(ctx context.Context, a activity.Activity) (*model.Tweet, error) {
	tweetID, ok := activity.TweetIDFromObject(a.Object)
	if !ok {
		return nil, model.NewOrphanedReferenceError(a.ID)
	}
	return s.tweets.FindByID(ctx, tweetID)
}

// project は解決済みのページを投影する。投影に失敗した場合はページ全体を返さない。
func project[E, V any](
	ctx context.Context,
	page pagination.Paginated[E],
	err error,
	viewerID string,
	many func(ctx context.Context, items []E, viewerID string, opts viewable.Options) ([]V, error),
) (pagination.Paginated[V], error) {
	if err != nil {
		return pagination.Paginated[V]{}, err
	}
	views, err := many(ctx, page.Page, viewerID, checked)
	if err != nil {
		return pagination.Paginated[V]{}, err
	}
	return pagination.Paginated[V]{Page: views, NextToken: page.NextToken}, nil
}

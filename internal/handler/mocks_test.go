package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
	"github.com/hitoshi/chirp/internal/user"
)

// --- モック定義 ---

type mockUserService struct {
	registerFn  func(ctx context.Context, in user.RegisterInput) (*model.User, error)
	feedTokenFn func(ctx context.Context, userID string) (string, error)
}

func (m *mockUserService) Register(ctx context.Context, in user.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.User{ID: "u-new", Username: in.Username}, nil
}

func (m *mockUserService) FeedToken(ctx context.Context, userID string) (string, error) {
	if m.feedTokenFn != nil {
		return m.feedTokenFn(ctx, userID)
	}
	return "token", nil
}

type mockGraphService struct {
	followFn   func(ctx context.Context, followerID, followeeID string) error
	unfollowFn func(ctx context.Context, followerID, followeeID string) error
}

func (m *mockGraphService) Follow(ctx context.Context, followerID, followeeID string) error {
	if m.followFn != nil {
		return m.followFn(ctx, followerID, followeeID)
	}
	return nil
}

func (m *mockGraphService) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if m.unfollowFn != nil {
		return m.unfollowFn(ctx, followerID, followeeID)
	}
	return nil
}

type mockQueryService struct {
	userFn          func(ctx context.Context, userID, viewerID string) (*model.ViewableUser, error)
	tweetFn         func(ctx context.Context, tweetID, viewerID string) (*model.ViewableTweet, error)
	followersFn     func(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error)
	followingsFn    func(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error)
	userTweetsFn    func(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	timelineFn      func(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	bookmarksFn     func(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	likedTweetsFn   func(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	tweetLikesFn    func(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableLike], error)
	tweetCommentsFn func(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableComment], error)
}

func (m *mockQueryService) User(ctx context.Context, userID, viewerID string) (*model.ViewableUser, error) {
	if m.userFn != nil {
		return m.userFn(ctx, userID, viewerID)
	}
	return &model.ViewableUser{User: model.User{ID: userID}}, nil
}

func (m *mockQueryService) Tweet(ctx context.Context, tweetID, viewerID string) (*model.ViewableTweet, error) {
	if m.tweetFn != nil {
		return m.tweetFn(ctx, tweetID, viewerID)
	}
	return &model.ViewableTweet{Tweet: model.Tweet{ID: tweetID}}, nil
}

func (m *mockQueryService) Followers(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error) {
	if m.followersFn != nil {
		return m.followersFn(ctx, userID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableUser]{Page: []model.ViewableUser{}}, nil
}

func (m *mockQueryService) Followings(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error) {
	if m.followingsFn != nil {
		return m.followingsFn(ctx, userID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableUser]{Page: []model.ViewableUser{}}, nil
}

func (m *mockQueryService) UserTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if m.userTweetsFn != nil {
		return m.userTweetsFn(ctx, userID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableTweet]{Page: []model.ViewableTweet{}}, nil
}

func (m *mockQueryService) Timeline(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if m.timelineFn != nil {
		return m.timelineFn(ctx, viewerID, req)
	}
	return pagination.Paginated[model.ViewableTweet]{Page: []model.ViewableTweet{}}, nil
}

func (m *mockQueryService) Bookmarks(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if m.bookmarksFn != nil {
		return m.bookmarksFn(ctx, viewerID, req)
	}
	return pagination.Paginated[model.ViewableTweet]{Page: []model.ViewableTweet{}}, nil
}

func (m *mockQueryService) LikedTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error) {
	if m.likedTweetsFn != nil {
		return m.likedTweetsFn(ctx, userID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableTweet]{Page: []model.ViewableTweet{}}, nil
}

func (m *mockQueryService) TweetLikes(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableLike], error) {
	if m.tweetLikesFn != nil {
		return m.tweetLikesFn(ctx, tweetID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableLike]{Page: []model.ViewableLike{}}, nil
}

func (m *mockQueryService) TweetComments(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableComment], error) {
	if m.tweetCommentsFn != nil {
		return m.tweetCommentsFn(ctx, tweetID, viewerID, req)
	}
	return pagination.Paginated[model.ViewableComment]{Page: []model.ViewableComment{}}, nil
}

type mockTweetService struct {
	createFn func(ctx context.Context, authorID, text string) (*model.Tweet, error)
	deleteFn func(ctx context.Context, tweetID, actorID string) error
}

func (m *mockTweetService) Create(ctx context.Context, authorID, text string) (*model.Tweet, error) {
	if m.createFn != nil {
		return m.createFn(ctx, authorID, text)
	}
	return &model.Tweet{ID: "t-new", AuthorID: authorID, Text: text}, nil
}

func (m *mockTweetService) Delete(ctx context.Context, tweetID, actorID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tweetID, actorID)
	}
	return nil
}

type mockLikeService struct {
	likeFn        func(ctx context.Context, tweetID, authorID string) (*model.Like, error)
	unlikeTweetFn func(ctx context.Context, tweetID, actorID string) error
}

func (m *mockLikeService) Like(ctx context.Context, tweetID, authorID string) (*model.Like, error) {
	if m.likeFn != nil {
		return m.likeFn(ctx, tweetID, authorID)
	}
	return &model.Like{ID: "l-new", TweetID: tweetID, AuthorID: authorID}, nil
}

func (m *mockLikeService) UnlikeTweet(ctx context.Context, tweetID, actorID string) error {
	if m.unlikeTweetFn != nil {
		return m.unlikeTweetFn(ctx, tweetID, actorID)
	}
	return nil
}

type mockBookmarkService struct {
	addFn         func(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error)
	removeTweetFn func(ctx context.Context, tweetID, actorID string) error
}

func (m *mockBookmarkService) Add(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error) {
	if m.addFn != nil {
		return m.addFn(ctx, tweetID, authorID)
	}
	return &model.Bookmark{ID: "b-new", TweetID: tweetID, AuthorID: authorID}, nil
}

func (m *mockBookmarkService) RemoveTweet(ctx context.Context, tweetID, actorID string) error {
	if m.removeTweetFn != nil {
		return m.removeTweetFn(ctx, tweetID, actorID)
	}
	return nil
}

type mockCommentService struct {
	addFn    func(ctx context.Context, tweetID, authorID, text string) (*model.Comment, error)
	removeFn func(ctx context.Context, commentID, actorID string) error
}

func (m *mockCommentService) Add(ctx context.Context, tweetID, authorID, text string) (*model.Comment, error) {
	if m.addFn != nil {
		return m.addFn(ctx, tweetID, authorID, text)
	}
	return &model.Comment{ID: "c-new", TweetID: tweetID, AuthorID: authorID, Text: text}, nil
}

func (m *mockCommentService) Remove(ctx context.Context, commentID, actorID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, commentID, actorID)
	}
	return nil
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return v
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
	"github.com/hitoshi/chirp/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register はユーザーを登録する。
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
	// FeedToken はフィードサービスに直接接続するためのクライアントトークンを発行する。
	FeedToken(ctx context.Context, userID string) (string, error)
}

// GraphServiceInterface はフォロー操作のサービスインターフェース。
type GraphServiceInterface interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
}

// QueryServiceInterface は閲覧者向け投影を返す読み取りサービスのインターフェース。
type QueryServiceInterface interface {
	User(ctx context.Context, userID, viewerID string) (*model.ViewableUser, error)
	Tweet(ctx context.Context, tweetID, viewerID string) (*model.ViewableTweet, error)
	Followers(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error)
	Followings(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableUser], error)
	UserTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	Timeline(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	Bookmarks(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	LikedTweets(ctx context.Context, userID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error)
	TweetLikes(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableLike], error)
	TweetComments(ctx context.Context, tweetID, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableComment], error)
}

// UserHandler はユーザーとフォロー関係のHTTPハンドラー。
type UserHandler struct {
	users  UserServiceInterface
	graph  GraphServiceInterface
	query  QueryServiceInterface
	logger *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserServiceInterface, graph GraphServiceInterface, query QueryServiceInterface, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		graph:  graph,
		query:  query,
		logger: logger,
	}
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Image    string `json:"image"`
}

// Register はユーザー登録を処理する。
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	u, err := h.users.Register(r.Context(), user.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Username: req.Username,
		Image:    req.Image,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// Me は閲覧者自身のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	h.writeUser(w, r, viewer, viewer)
}

// FeedToken はフィード用クライアントトークンを返す。
// GET /api/users/me/feed-token
func (h *UserHandler) FeedToken(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}

	token, err := h.users.FeedToken(r.Context(), viewer)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, feedTokenResponse{Token: token})
}

// GetUser はユーザーの投影を返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	h.writeUser(w, r, chi.URLParam(r, "id"), viewer)
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, userID, viewer string) {
	u, err := h.query.User(r.Context(), userID, viewer)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewableUserResponse(u))
}

// Follow はフォローを処理する。
// PUT /api/users/{id}/follow
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.mutateFollow(w, r, h.graph.Follow)
}

// Unfollow はフォロー解除を処理する。
// DELETE /api/users/{id}/follow
func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.mutateFollow(w, r, h.graph.Unfollow)
}

func (h *UserHandler) mutateFollow(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, followerID, followeeID string) error) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), viewer, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Followers はフォロワー一覧を返す。
// GET /api/users/{id}/followers
func (h *UserHandler) Followers(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.Followers, toViewableUserResponse)
}

// Followings はフォロー中ユーザー一覧を返す。
// GET /api/users/{id}/followings
func (h *UserHandler) Followings(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.Followings, toViewableUserResponse)
}

// Tweets はユーザーの投稿一覧を返す。
// GET /api/users/{id}/tweets
func (h *UserHandler) Tweets(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.UserTweets, toTweetResponse)
}

// Likes はユーザーがいいねした投稿一覧を返す。
// GET /api/users/{id}/likes
func (h *UserHandler) Likes(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.LikedTweets, toTweetResponse)
}

// listByID はパスパラメータidを起点とする閲覧者向けページを書き込む。
func listByID[T, R any](
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	list func(ctx context.Context, id, viewerID string, req pagination.Request) (pagination.Paginated[T], error),
	convert func(*T) R,
) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	req, err := parsePageRequest(r)
	if err != nil {
		handleServiceError(w, logger, err)
		return
	}

	page, err := list(r.Context(), chi.URLParam(r, "id"), viewer, req)
	if err != nil {
		handleServiceError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, convert))
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chirp/internal/model"
)

// TweetServiceInterface は投稿の作成・削除のサービスインターフェース。
type TweetServiceInterface interface {
	Create(ctx context.Context, authorID, text string) (*model.Tweet, error)
	Delete(ctx context.Context, tweetID, actorID string) error
}

// LikeServiceInterface はいいね操作のサービスインターフェース。
type LikeServiceInterface interface {
	Like(ctx context.Context, tweetID, authorID string) (*model.Like, error)
	UnlikeTweet(ctx context.Context, tweetID, actorID string) error
}

// BookmarkServiceInterface はブックマーク操作のサービスインターフェース。
type BookmarkServiceInterface interface {
	Add(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error)
	RemoveTweet(ctx context.Context, tweetID, actorID string) error
}

// CommentServiceInterface はコメント操作のサービスインターフェース。
type CommentServiceInterface interface {
	Add(ctx context.Context, tweetID, authorID, text string) (*model.Comment, error)
	Remove(ctx context.Context, commentID, actorID string) error
}

// TweetHandler は投稿とリアクションのHTTPハンドラー。
type TweetHandler struct {
	tweets    TweetServiceInterface
	likes     LikeServiceInterface
	bookmarks BookmarkServiceInterface
	comments  CommentServiceInterface
	query     QueryServiceInterface
	logger    *slog.Logger
}

// NewTweetHandler はTweetHandlerを生成する。
func NewTweetHandler(
	tweets TweetServiceInterface,
	likes LikeServiceInterface,
	bookmarks BookmarkServiceInterface,
	comments CommentServiceInterface,
	query QueryServiceInterface,
	logger *slog.Logger,
) *TweetHandler {
	return &TweetHandler{
		tweets:    tweets,
		likes:     likes,
		bookmarks: bookmarks,
		comments:  comments,
		query:     query,
		logger:    logger,
	}
}

// textRequest は本文を持つ作成リクエストのボディ。
type textRequest struct {
	Text string `json:"text"`
}

// Create は投稿を作成する。
// POST /api/tweets
func (h *TweetHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	tweet, err := h.tweets.Create(r.Context(), viewer, req.Text)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: tweet.ID})
}

// Get は投稿の投影を返す。
// GET /api/tweets/{id}
func (h *TweetHandler) Get(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}

	tweet, err := h.query.Tweet(r.Context(), chi.URLParam(r, "id"), viewer)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTweetResponse(tweet))
}

// Delete は投稿を削除する。
// DELETE /api/tweets/{id}
func (h *TweetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.tweets.Delete)
}

// Like は投稿にいいねする。
// PUT /api/tweets/{id}/like
func (h *TweetHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, func(ctx context.Context, tweetID, actorID string) error {
		_, err := h.likes.Like(ctx, tweetID, actorID)
		return err
	})
}

// Unlike は投稿へのいいねを取り消す。
// DELETE /api/tweets/{id}/like
func (h *TweetHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.likes.UnlikeTweet)
}

// Bookmark は投稿をブックマークする。
// PUT /api/tweets/{id}/bookmark
func (h *TweetHandler) Bookmark(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, func(ctx context.Context, tweetID, actorID string) error {
		_, err := h.bookmarks.Add(ctx, tweetID, actorID)
		return err
	})
}

// Unbookmark は投稿のブックマークを解除する。
// DELETE /api/tweets/{id}/bookmark
func (h *TweetHandler) Unbookmark(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.bookmarks.RemoveTweet)
}

// AddComment は投稿にコメントする。
// POST /api/tweets/{id}/comments
func (h *TweetHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	comment, err := h.comments.Add(r.Context(), chi.URLParam(r, "id"), viewer, req.Text)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: comment.ID})
}

// RemoveComment はコメントを削除する。
// DELETE /api/comments/{id}
func (h *TweetHandler) RemoveComment(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.comments.Remove)
}

// Likes は投稿へのいいね一覧を返す。
// GET /api/tweets/{id}/likes
func (h *TweetHandler) Likes(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.TweetLikes, toLikeResponse)
}

// Comments は投稿へのコメント一覧を返す。
// GET /api/tweets/{id}/comments
func (h *TweetHandler) Comments(w http.ResponseWriter, r *http.Request) {
	listByID(w, r, h.logger, h.query.TweetComments, toCommentResponse)
}

// noContent はパスパラメータidと閲覧者IDで操作を実行し、成功時に204を返す。
func (h *TweetHandler) noContent(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actorID string) error) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), chi.URLParam(r, "id"), viewer); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
)

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Username        string    `json:"username"`
	Image           string    `json:"image,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	FollowersCount  int       `json:"followers_count"`
	FollowingsCount int       `json:"followings_count"`
	TweetsCount     int       `json:"tweets_count"`
}

// viewableUserResponse は閲覧者から見たユーザーのAPIレスポンス。
type viewableUserResponse struct {
	userResponse
	Following bool `json:"following"`
	Follower  bool `json:"follower"`
}

// tweetResponse は投稿のAPIレスポンス。
type tweetResponse struct {
	ID            string               `json:"id"`
	Text          string               `json:"text"`
	CreatedAt     time.Time            `json:"created_at"`
	LikesCount    int                  `json:"likes_count"`
	CommentsCount int                  `json:"comments_count"`
	Deleted       bool                 `json:"deleted,omitempty"`
	Author        viewableUserResponse `json:"author"`
	Liked         bool                 `json:"liked"`
	Bookmarked    bool                 `json:"bookmarked"`
}

// commentResponse はコメントのAPIレスポンス。
type commentResponse struct {
	ID        string               `json:"id"`
	TweetID   string               `json:"tweet_id"`
	Text      string               `json:"text"`
	CreatedAt time.Time            `json:"created_at"`
	Author    viewableUserResponse `json:"author"`
}

// likeResponse はいいねのAPIレスポンス。
type likeResponse struct {
	ID        string               `json:"id"`
	TweetID   string               `json:"tweet_id"`
	CreatedAt time.Time            `json:"created_at"`
	Author    viewableUserResponse `json:"author"`
}

// createdResponse は作成系操作のAPIレスポンス。
type createdResponse struct {
	ID string `json:"id"`
}

// feedTokenResponse はフィード用クライアントトークンのAPIレスポンス。
type feedTokenResponse struct {
	Token string `json:"token"`
}

// pageResponse はページングされた一覧のAPIレスポンス。
type pageResponse[T any] struct {
	Page      []T    `json:"page"`
	NextToken string `json:"next_token,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Username:        u.Username,
		Image:           u.Image,
		CreatedAt:       u.CreatedAt,
		FollowersCount:  u.SocialDetails.FollowersCount,
		FollowingsCount: u.SocialDetails.FollowingsCount,
		TweetsCount:     u.ActivityDetails.TweetsCount,
	}
}

func toViewableUserResponse(u *model.ViewableUser) viewableUserResponse {
	return viewableUserResponse{
		userResponse: toUserResponse(&u.User),
		Following:    u.Following,
		Follower:     u.Follower,
	}
}

func toTweetResponse(t *model.ViewableTweet) tweetResponse {
	return tweetResponse{
		ID:            t.ID,
		Text:          t.Text,
		CreatedAt:     t.CreatedAt,
		LikesCount:    t.Meta.LikesCount,
		CommentsCount: t.Meta.CommentsCount,
		Deleted:       t.IsDeleted(),
		Author:        toViewableUserResponse(&t.Author),
		Liked:         t.Liked,
		Bookmarked:    t.Bookmarked,
	}
}

func toCommentResponse(c *model.ViewableComment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		TweetID:   c.TweetID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
		Author:    toViewableUserResponse(&c.Author),
	}
}

func toLikeResponse(l *model.ViewableLike) likeResponse {
	return likeResponse{
		ID:        l.ID,
		TweetID:   l.TweetID,
		CreatedAt: l.CreatedAt,
		Author:    toViewableUserResponse(&l.Author),
	}
}

// toPageResponse はページの各要素をレスポンス型に変換する。
func toPageResponse[T, R any](p pagination.Paginated[T], convert func(*T) R) pageResponse[R] {
	out := pageResponse[R]{Page: make([]R, len(p.Page)), NextToken: p.NextToken}
	for i := range p.Page {
		out.Page[i] = convert(&p.Page[i])
	}
	return out
}

// parsePageRequest はクエリパラメータlimitとnext_tokenを読み取る。
// limitの上限・既定値の適用はページング層に任せる。
func parsePageRequest(r *http.Request) (pagination.Request, error) {
	q := r.URL.Query()
	req := pagination.Request{NextToken: q.Get("next_token")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return pagination.Request{}, model.NewInvalidInputError("limitは0以上の整数で指定してください")
		}
		req.Limit = limit
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstに読み込む。失敗時はINVALID_INPUTを返す。
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidInputError("リクエストボディの解析に失敗しました")
	}
	return nil
}

// viewerID は認証済みユーザーIDを返す。認証ミドルウェアの内側でのみ呼ぶこと。
func viewerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Kind:     model.KindInvalid,
			Message:  "認証が必要です。",
			Category: "auth",
			Action:   "有効なトークンを指定してください。",
		})
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	middleware.WriteError(w, logger, err)
}

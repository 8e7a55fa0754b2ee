package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/chirp/internal/middleware"
)

// HealthChecker は依存先の疎通確認を行う。
type HealthChecker func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Auth              middleware.AuthConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.StatusRecorder
	MetricsHandler    http.Handler
	Health            HealthChecker

	// サービス
	Users     UserServiceInterface
	Graph     GraphServiceInterface
	Query     QueryServiceInterface
	Tweets    TweetServiceInterface
	Likes     LikeServiceInterface
	Bookmarks BookmarkServiceInterface
	Comments  CommentServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	→ (認証が必要なルートのみ) Auth → RateLimit(General) → RateLimit(Write)
//
// ユーザー登録、/health、/metricsは認証の外に配置する。ユーザー登録は接続元IPごとに制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.Users, deps.Graph, deps.Query, deps.Logger)
	tweetHandler := NewTweetHandler(deps.Tweets, deps.Likes, deps.Bookmarks, deps.Comments, deps.Query, deps.Logger)
	timelineHandler := NewTimelineHandler(deps.Query, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.Health, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.With(deps.RateLimiter.SignupMiddleware()).Post("/api/users", userHandler.Register)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Auth, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.WriteMiddleware())

		// ユーザー・フォロー
		r.Get("/api/users/me", userHandler.Me)
		r.Get("/api/users/me/feed-token", userHandler.FeedToken)
		r.Get("/api/users/{id}", userHandler.GetUser)
		r.Get("/api/users/{id}/followers", userHandler.Followers)
		r.Get("/api/users/{id}/followings", userHandler.Followings)
		r.Put("/api/users/{id}/follow", userHandler.Follow)
		r.Delete("/api/users/{id}/follow", userHandler.Unfollow)
		r.Get("/api/users/{id}/tweets", userHandler.Tweets)
		r.Get("/api/users/{id}/likes", userHandler.Likes)

		// 閲覧者のフィード
		r.Get("/api/timeline", timelineHandler.Timeline)
		r.Get("/api/bookmarks", timelineHandler.Bookmarks)

		// 投稿・リアクション
		r.Post("/api/tweets", tweetHandler.Create)
		r.Get("/api/tweets/{id}", tweetHandler.Get)
		r.Delete("/api/tweets/{id}", tweetHandler.Delete)
		r.Put("/api/tweets/{id}/like", tweetHandler.Like)
		r.Delete("/api/tweets/{id}/like", tweetHandler.Unlike)
		r.Get("/api/tweets/{id}/likes", tweetHandler.Likes)
		r.Put("/api/tweets/{id}/bookmark", tweetHandler.Bookmark)
		r.Delete("/api/tweets/{id}/bookmark", tweetHandler.Unbookmark)
		r.Get("/api/tweets/{id}/comments", tweetHandler.Comments)
		r.Post("/api/tweets/{id}/comments", tweetHandler.AddComment)
		r.Delete("/api/comments/{id}", tweetHandler.RemoveComment)
	})

	return r
}

// healthHandler は依存先の疎通を確認し、結果を返す。
// GET /health
func healthHandler(check HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				logger.Error("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/config"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/database"
	"github.com/hitoshi/chirp/internal/graph"
	"github.com/hitoshi/chirp/internal/handler"
	"github.com/hitoshi/chirp/internal/logger"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/middleware"
	"github.com/hitoshi/chirp/internal/query"
	"github.com/hitoshi/chirp/internal/reaction"
	"github.com/hitoshi/chirp/internal/repository"
	"github.com/hitoshi/chirp/internal/security"
	"github.com/hitoshi/chirp/internal/tweet"
	"github.com/hitoshi/chirp/internal/user"
	"github.com/hitoshi/chirp/internal/viewable"
	"github.com/hitoshi/chirp/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	if cfg.LogLevel != slog.LevelInfo {
		log = logger.SetupDefault(w, cfg.LogLevel)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("feed_api_url", cfg.FeedAPIURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandReconcile:
		return runReconcile(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tweetRepo := repository.NewPostgresTweetRepo(db)
	followRepo := repository.NewPostgresFollowRepo(db)
	likeRepo := repository.NewPostgresLikeRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	bookmarkRepo := repository.NewPostgresBookmarkRepo(db)
	tx := repository.NewPostgresTransactor(db, cfg.TxMaxRetries)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. フィードサービスクライアント
	signer, err := activity.NewTokenSigner(cfg.FeedAPISecret)
	if err != nil {
		return fmt.Errorf("failed to create feed token signer: %w", err)
	}
	feed := activity.NewClient(activity.ClientConfig{
		BaseURL:   cfg.FeedAPIURL,
		APIKey:    cfg.FeedAPIKey,
		RateLimit: cfg.FeedRateLimit,
	}, signer, &http.Client{Timeout: cfg.FeedTimeout}, log).WithObserver(collector)

	// 5. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	counters := counter.NewMaintainer(log, collector)

	graphService := graph.NewService(userRepo, followRepo, tx, feed, counters, log, collector)
	tweetService := tweet.NewService(userRepo, tweetRepo, tx, feed, counters, sanitizer, log, collector)

	deps := reaction.Deps{
		Users:    userRepo,
		Tweets:   tweetRepo,
		Tx:       tx,
		Feed:     feed,
		Counters: counters,
		Logger:   log,
		Metrics:  collector,
	}
	likeService := reaction.NewLikeService(deps, likeRepo)
	commentService := reaction.NewCommentService(deps, commentRepo, sanitizer)
	bookmarkService := reaction.NewBookmarkService(deps, bookmarkRepo)

	userService := user.NewService(userRepo, signer, log)

	engine := viewable.NewEngine(userRepo, followRepo, likeRepo, bookmarkRepo, cfg.ProjectionConcurrency)
	queryService := query.NewService(userRepo, tweetRepo, followRepo, likeRepo, commentRepo, feed, engine)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite, cfg.RateLimitSignup), log,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Auth:              middleware.AuthConfig{Secret: cfg.AuthJWTSecret, Issuer: cfg.AuthJWTIssuer},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Health:            db.PingContext,

		Users:     userService,
		Graph:     graphService,
		Query:     queryService,
		Tweets:    tweetService,
		Likes:     likeService,
		Bookmarks: bookmarkService,
		Comments:  commentService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、カウンター整合ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	job := reconcile.NewJob(db, collector, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 修正件数をスクレイプできるよう/metricsのみ公開する
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	log.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// ブロッキング
	job.Start(ctx, cfg.ReconcileInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runReconcile はカウンター整合ジョブを1回だけ実行して終了する。
// 障害対応時に手動で修復をかける用途。
func runReconcile(cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	job := reconcile.NewJob(db, metrics.Nop{}, log)
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	log.Info("counter reconciliation completed")
	return nil
}

// openDB はプール設定を適用して接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

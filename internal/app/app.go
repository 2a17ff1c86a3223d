// Package app はアプリケーションの起動とサブコマンドの実行を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/scholarly/internal/auth"
	"github.com/hitoshi/scholarly/internal/cache"
	"github.com/hitoshi/scholarly/internal/chat"
	"github.com/hitoshi/scholarly/internal/config"
	"github.com/hitoshi/scholarly/internal/database"
	"github.com/hitoshi/scholarly/internal/handler"
	"github.com/hitoshi/scholarly/internal/logger"
	"github.com/hitoshi/scholarly/internal/metrics"
	"github.com/hitoshi/scholarly/internal/repository"
	"github.com/hitoshi/scholarly/internal/session"
	"github.com/hitoshi/scholarly/internal/user"
	"github.com/hitoshi/scholarly/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再初期化
	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとセッションクリーンアップを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", CommandServe),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	// 1. DB接続とスキーマ適用
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database schema is up to date", slog.Uint64("version", uint64(version)))

	// 2. セッションキャッシュ
	sessionCache, err := cache.New(cache.Config{
		Driver:   cache.Driver(cfg.SessionCache),
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create session cache: %w", err)
	}
	if closer, ok := sessionCache.(io.Closer); ok {
		defer closer.Close()
	}
	if pinger, ok := sessionCache.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to session cache: %w", err)
		}
	}
	slog.Info("session cache configured", slog.String("driver", cfg.SessionCache))

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. リポジトリとドメインサービスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	chatRepo := repository.NewPostgresChatRepo(db)

	userService := user.NewService(userRepo)
	sessionStore := session.NewStore(sessionRepo, userService, sessionCache, collector, cfg.SessionTTL)
	chatService := chat.NewService(chatRepo, collector, cfg.HistoryDefaultLimit)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Timeout:      cfg.OAuthHTTPTimeout,
	})
	authService := auth.NewService(oauthProvider, userService, sessionStore, collector)

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		SessionValidator:  sessionStore,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			AppURL:        cfg.AppURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: sessionStore.TTL(),
		},

		ChatService: chatService,

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      registry,
	})

	// 6. HTTPサーバーとクリーンアップジョブの起動
	server := newHTTPServer(":"+cfg.ServerPort, router)
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("server listen error: %w", err)
	}
	cleanupJob := cleanup.NewCleanupJob(sessionStore, slog.Default())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gctx, server, ln)
	})

	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.SessionSweepInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newHTTPServer はAPIサーバーを生成する。
// リクエストのコンテキストはシグナルのコンテキストから派生させない。
// シャットダウン開始後も処理中のリクエストはshutdownTimeoutまで完了を待つ。
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// runHTTPServer はlnでserverを起動し、ctxが終了したらグレースフルシャットダウンする。
func runHTTPServer(ctx context.Context, server *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server listen error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return <-errCh
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runSweep は期限切れセッションを1回だけ削除する。
// cronなど外部スケジューラからの実行用。
func runSweep(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userService := user.NewService(repository.NewPostgresUserRepo(db))
	store := session.NewStore(repository.NewPostgresSessionRepo(db), userService, nil, nil, cfg.SessionTTL)

	if _, err := cleanup.NewCleanupJob(store, slog.Default()).Run(ctx); err != nil {
		return err
	}
	return nil
}

// healthcheckURL は環境変数のポート設定からヘルスチェックURLを組み立てる。
func healthcheckURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = "5000"
	}
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// runHealthcheck はヘルスチェックを実行する。
// /health エンドポイントにHTTPリクエストを送り、200以外はエラーを返す。
func runHealthcheck(ctx context.Context, healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

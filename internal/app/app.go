package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/vintedwatch/internal/config"
	"github.com/hitoshi/vintedwatch/internal/database"
	"github.com/hitoshi/vintedwatch/internal/handler"
	"github.com/hitoshi/vintedwatch/internal/ingest"
	"github.com/hitoshi/vintedwatch/internal/logger"
	"github.com/hitoshi/vintedwatch/internal/marketplace"
	"github.com/hitoshi/vintedwatch/internal/metrics"
	"github.com/hitoshi/vintedwatch/internal/middleware"
	"github.com/hitoshi/vintedwatch/internal/normalize"
	"github.com/hitoshi/vintedwatch/internal/query"
	"github.com/hitoshi/vintedwatch/internal/repository"
	"github.com/hitoshi/vintedwatch/internal/security"
	"github.com/hitoshi/vintedwatch/internal/stats"
	"github.com/hitoshi/vintedwatch/internal/worker/refresh"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数（と.env）からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("marketplace", cfg.MarketplaceBaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		migrateArgs, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, migrateArgs)
	default:
		return runServe(cfg)
	}
}

// components はserveとworkerで共有するドメインサービス群。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	queries   *query.Service
	ingest    *ingest.Service
	stats     *stats.Service
}

// newGuard はFETCH_SSRF_GUARDに応じて外向き通信のガードを選ぶ。
func newGuard(cfg *config.Config) security.OutboundGuard {
	if cfg.FetchSSRFGuard {
		return security.NewSSRFGuard()
	}
	return security.PlainGuard{}
}

// buildComponents はマーケットプレイスクライアント、フェッチ戦略チェーン、
// 正規化、リポジトリ、サービスを組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	guard := newGuard(cfg)
	if err := guard.ValidateURL(cfg.MarketplaceBaseURL); err != nil {
		return nil, fmt.Errorf("marketplace base URL rejected: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	client := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL:     cfg.MarketplaceBaseURL,
		Timeout:     cfg.FetchTimeout,
		Delay:       cfg.FetchDelay,
		MaxBodySize: cfg.FetchMaxSize,
	}, guard, log)
	chain := marketplace.NewDefaultChain(client, collector, log)
	normalizer := normalize.NewNormalizer(client.ItemBaseURL(), security.NewTextSanitizer())

	queryRepo := repository.NewPostgresQueryRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	ingestService := ingest.NewService(queryRepo, listingRepo, chain, normalizer, collector, log, ingest.Options{
		PerPage: cfg.FetchPerPage,
		Order:   cfg.FetchOrder,
		Locale:  cfg.MarketplaceLocale,
	})

	return &components{
		registry:  registry,
		collector: collector,
		queries:   query.NewService(queryRepo),
		ingest:    ingestService,
		stats:     stats.NewService(queryRepo, listingRepo, statsRepo, collector, log),
	}, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRouter はcomponentsからHTTPルーターを構築する。
func newRouter(cfg *config.Config, db handler.HealthChecker, c *components, limiter *middleware.RateLimiter, log *slog.Logger) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(c.registry),
		StatusRecorder:    c.collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,

		QueryService:  c.queries,
		IngestService: c.ingest,
		StatsService:  c.stats,
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitFetch), log,
	)
	defer limiter.Stop()

	// フェッチは戦略チェーン全体（ウェイトを含む）を同期実行するため、書き込みタイムアウトを長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, db, c, limiter, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 4*cfg.FetchTimeout + 4*cfg.FetchDelay + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 全保存済み検索のフェッチ・取り込み・日次統計計算をREFRESH_INTERVAL毎に実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("per_page", cfg.FetchPerPage),
	)

	scheduler := refresh.NewScheduler(c.queries, c.ingest, c.stats, log)
	scheduler.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args MigrateArgs) error {
	slog.Info("running database migrations",
		slog.String("action", string(args.Action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch args.Action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, args.Steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", args.Steps))
	case MigrateStatus:
		version, dirty, err := database.MigrationStatus(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		slog.Info("database migration status",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

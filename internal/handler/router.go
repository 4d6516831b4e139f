package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/vintedwatch/internal/middleware"
)

// APIPrefix は全APIエンドポイントの共通パス。
const APIPrefix = "/api/vinted"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	QueryService  QueryServiceInterface
	IngestService IngestServiceInterface
	StatsService  StatsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	queryHandler := NewQueryHandler(deps.QueryService)
	fetchHandler := NewFetchHandler(deps.IngestService)
	statsHandler := NewStatsHandler(deps.StatsService)

	r.Route(APIPrefix+"/queries", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Post("/", queryHandler.CreateQuery)
		r.Get("/", queryHandler.ListQueries)

		r.Route("/{id}", func(r chi.Router) {
			// フェッチ実行はマーケットプレイスへのアクセスを伴うため専用のレート制限を追加
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.FetchMiddleware()).Post("/fetch", fetchHandler.Fetch)
			} else {
				r.Post("/fetch", fetchHandler.Fetch)
			}
			r.Get("/items", fetchHandler.ListItems)
			r.Post("/stats", statsHandler.ComputeStats)
			r.Get("/stats", statsHandler.History)
		})
	})

	return r
}

// Package refresh は保存済み検索の定期リフレッシュ（フェッチ・取り込み・統計計算）を提供する。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/vintedwatch/internal/ingest"
	"github.com/hitoshi/vintedwatch/internal/model"
)

// QueryLister は保存済み検索の一覧を返すインターフェース。
type QueryLister interface {
	List(ctx context.Context) ([]*model.SavedQuery, error)
}

// Ingester は保存済み検索1件のフェッチと取り込みを行うインターフェース。
type Ingester interface {
	FetchForQuery(ctx context.Context, queryID string) (*ingest.FetchSummary, error)
}

// StatsComputer は保存済み検索1件の日次統計を計算するインターフェース。
type StatsComputer interface {
	Compute(ctx context.Context, queryID string) (*model.DailyStat, error)
}

// Scheduler は保存済み検索を一定間隔でリフレッシュする。
// 検索は1件ずつ順番に処理し、マーケットプレイスへの同時アクセスを発生させない。
type Scheduler struct {
	queries  QueryLister
	ingester Ingester
	stats    StatsComputer
	logger   *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(queries QueryLister, ingester Ingester, stats StatsComputer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queries:  queries,
		ingester: ingester,
		stats:    stats,
		logger:   logger,
	}
}

// CycleResult は1サイクルの処理結果。
type CycleResult struct {
	Queries   int
	Succeeded int
	Failed    int
	ItemsNew  int
	MockRuns  int
}

// Start は起動直後に1回、その後interval毎にリフレッシュを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("リフレッシュサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全保存済み検索に対してフェッチ・取り込みと統計計算を順番に実行する。
// 個々の検索の失敗はログに記録して次の検索へ進む。
// 一覧の取得に失敗した場合とコンテキストがキャンセルされた場合のみエラーを返す。
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	queries, err := s.queries.List(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	result := CycleResult{Queries: len(queries)}
	if len(queries) == 0 {
		s.logger.Info("リフレッシュ対象の保存済み検索はありません")
		return result, nil
	}

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		summary, err := s.ingester.FetchForQuery(ctx, q.ID)
		if err != nil {
			result.Failed++
			s.logger.Error("保存済み検索のフェッチに失敗しました",
				slog.String("query_id", q.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.ItemsNew += summary.New
		if summary.IsMock {
			result.MockRuns++
		}

		if _, err := s.stats.Compute(ctx, q.ID); err != nil {
			result.Failed++
			s.logger.Error("日次統計の計算に失敗しました",
				slog.String("query_id", q.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Succeeded++
	}

	s.logger.Info("リフレッシュサイクルが完了しました",
		slog.Int("query_count", result.Queries),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("items_new", result.ItemsNew),
		slog.Int("mock_runs", result.MockRuns),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

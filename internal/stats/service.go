// Package stats は保存済み検索ごとの日次価格統計を計算する。
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/query"
	"github.com/hitoshi/vintedwatch/internal/repository"
)

// HistoryLimit は統計履歴の最大返却件数。
const HistoryLimit = 100

// Recorder は統計計算の実行を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordStatsComputed()
}

// Daily は1日分の集計結果。
type Daily struct {
	Avg    *float64
	Median *float64
	Count  int
}

// ComputeDaily は価格のうち0より大きいものを対象に平均と中央値を計算する。
// 値は小数点以下2桁に四捨五入する。対象が0件の場合、平均・中央値はnil。
func ComputeDaily(prices []float64) Daily {
	positive := make([]decimal.Decimal, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			positive = append(positive, decimal.NewFromFloat(p))
		}
	}
	if len(positive) == 0 {
		return Daily{}
	}

	sort.Slice(positive, func(i, j int) bool { return positive[i].LessThan(positive[j]) })

	n := len(positive)
	avg := decimal.Sum(positive[0], positive[1:]...).Div(decimal.NewFromInt(int64(n)))

	var median decimal.Decimal
	if n%2 == 1 {
		median = positive[n/2]
	} else {
		median = positive[n/2-1].Add(positive[n/2]).Div(decimal.NewFromInt(2))
	}

	avgValue := avg.Round(2).InexactFloat64()
	medianValue := median.Round(2).InexactFloat64()
	return Daily{Avg: &avgValue, Median: &medianValue, Count: n}
}

// Service は統計のサービス層。
type Service struct {
	queries  repository.QueryRepository
	listings repository.ListingRepository
	stats    repository.StatsRepository
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	queries repository.QueryRepository,
	listings repository.ListingRepository,
	stats repository.StatsRepository,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		queries:  queries,
		listings: listings,
		stats:    stats,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Compute は保存済み検索の全出品価格から当日（UTC）の統計を計算し、上書き保存する。
// 対象が0件でも行は保存する。
func (s *Service) Compute(ctx context.Context, queryID string) (*model.DailyStat, error) {
	if err := s.ensureQuery(ctx, queryID); err != nil {
		return nil, err
	}

	prices, err := s.listings.ListPricesByQuery(ctx, queryID)
	if err != nil {
		return nil, fmt.Errorf("価格一覧の取得に失敗しました: %w", err)
	}

	daily := ComputeDaily(prices)
	now := s.now().UTC()
	stat, err := s.stats.Upsert(ctx, &model.DailyStat{
		ID:          uuid.New().String(),
		QueryID:     queryID,
		Day:         now.Format(model.DayLayout),
		AvgPrice:    daily.Avg,
		MedianPrice: daily.Median,
		ItemCount:   daily.Count,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("日次統計の保存に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordStatsComputed()
	}
	s.logger.Info("日次統計を計算しました",
		slog.String("query_id", queryID),
		slog.String("day", stat.Day),
		slog.Int("item_count", stat.ItemCount),
	)
	return stat, nil
}

// History は保存済み検索の統計をday降順で最大HistoryLimit件返す。
func (s *Service) History(ctx context.Context, queryID string) ([]*model.DailyStat, error) {
	if err := s.ensureQuery(ctx, queryID); err != nil {
		return nil, err
	}

	history, err := s.stats.ListByQuery(ctx, queryID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("日次統計一覧の取得に失敗しました: %w", err)
	}
	return history, nil
}

func (s *Service) ensureQuery(ctx context.Context, queryID string) error {
	_, err := query.Find(ctx, s.queries, queryID)
	return err
}

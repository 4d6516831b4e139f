// Package ingest は取得した出品を正規化し、保存済み検索ごとに重複を除いて保存する。
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vintedwatch/internal/marketplace"
	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/query"
	"github.com/hitoshi/vintedwatch/internal/repository"
)

// Fetcher はフェッチ戦略チェーンのインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, params marketplace.SearchParams) model.FetchResult
}

// ItemNormalizer は生データを正規化するインターフェース。
type ItemNormalizer interface {
	NormalizeAll(raws []model.RawItem) []model.NormalizedItem
}

// Recorder は取り込み結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordItemsIngested(newCount, existingCount int)
}

// 保存済み出品一覧の取得件数。
const (
	DefaultItemLimit = 50
	MaxItemLimit     = 500
)

// Options はフェッチ時の検索条件の既定値。
type Options struct {
	PerPage int
	Order   string
	Locale  string
}

// Counts は取り込み件数。
type Counts struct {
	New      int
	Existing int
	Skipped  int // item_idが解決できず保存しなかった件数
}

// FetchSummary はフェッチと取り込みの結果と取得経緯。
type FetchSummary struct {
	QueryID       string
	Fetched       int
	New           int
	Existing      int
	Skipped       int
	Source        model.FetchSource
	IsMock        bool
	BlockedReason *string
}

// Service は取り込みのサービス層。
type Service struct {
	queries    repository.QueryRepository
	listings   repository.ListingRepository
	fetcher    Fetcher
	normalizer ItemNormalizer
	recorder   Recorder
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	queries repository.QueryRepository,
	listings repository.ListingRepository,
	fetcher Fetcher,
	normalizer ItemNormalizer,
	recorder Recorder,
	logger *slog.Logger,
	opts Options,
) *Service {
	return &Service{
		queries:    queries,
		listings:   listings,
		fetcher:    fetcher,
		normalizer: normalizer,
		recorder:   recorder,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// Ingest は生データを正規化し、(query_id, item_id)単位で未保存のものだけを保存する。
// 存在確認で既存と判定されたもの、および挿入時の一意制約で競合したものは既存として数える。
func (s *Service) Ingest(ctx context.Context, queryID string, raws []model.RawItem) (Counts, error) {
	var counts Counts

	for _, item := range s.normalizer.NormalizeAll(raws) {
		if item.ItemID == "" {
			counts.Skipped++
			continue
		}

		exists, err := s.listings.ExistsByQueryAndItemID(ctx, queryID, item.ItemID)
		if err != nil {
			return counts, fmt.Errorf("出品の存在確認に失敗しました: %w", err)
		}
		if exists {
			counts.Existing++
			continue
		}

		inserted, err := s.listings.InsertIfAbsent(ctx, &model.StoredItem{
			NormalizedItem: item,
			ID:             uuid.New().String(),
			QueryID:        queryID,
			CreatedAt:      s.now().UTC(),
		})
		if err != nil {
			return counts, fmt.Errorf("出品の保存に失敗しました: %w", err)
		}
		if inserted {
			counts.New++
		} else {
			counts.Existing++
		}
	}

	if s.recorder != nil {
		s.recorder.RecordItemsIngested(counts.New, counts.Existing)
	}
	return counts, nil
}

// Items は保存済み検索の出品を新しい順に最大limit件返す。
// limitは1からMaxItemLimitまでで、範囲外はINVALID_LIMITを返す。
func (s *Service) Items(ctx context.Context, queryID string, limit int) ([]*model.StoredItem, error) {
	if limit < 1 || limit > MaxItemLimit {
		return nil, model.NewInvalidLimitError(fmt.Sprint(limit))
	}
	if _, err := query.Find(ctx, s.queries, queryID); err != nil {
		return nil, err
	}

	items, err := s.listings.ListByQuery(ctx, queryID, limit)
	if err != nil {
		return nil, fmt.Errorf("出品一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// FetchForQuery は保存済み検索の条件でフェッチ戦略チェーンを実行し、結果を取り込む。
// 保存済み検索が存在しない場合はQUERY_NOT_FOUNDを返す。
func (s *Service) FetchForQuery(ctx context.Context, queryID string) (*FetchSummary, error) {
	q, err := query.Find(ctx, s.queries, queryID)
	if err != nil {
		return nil, err
	}

	params := marketplace.ParamsFromFilters(q.Filters, s.opts.PerPage, s.opts.Order, s.opts.Locale)
	result := s.fetcher.Fetch(ctx, params)

	counts, err := s.Ingest(ctx, q.ID, result.Items)
	if err != nil {
		return nil, err
	}

	s.logger.Info("出品の取り込みが完了しました",
		slog.String("query_id", q.ID),
		slog.String("source", string(result.Source)),
		slog.Int("items_fetched", len(result.Items)),
		slog.Int("items_new", counts.New),
		slog.Int("items_existing", counts.Existing),
		slog.Int("items_skipped", counts.Skipped),
	)

	return &FetchSummary{
		QueryID:       q.ID,
		Fetched:       len(result.Items),
		New:           counts.New,
		Existing:      counts.Existing,
		Skipped:       counts.Skipped,
		Source:        result.Source,
		IsMock:        result.IsMock,
		BlockedReason: result.BlockedReason,
	}, nil
}

// Package query は保存済み検索の作成・参照を提供する。
package query

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/repository"
)

const (
	// ListLimit は一覧取得の上限件数。
	ListLimit = 100
	// maxNameLength は検索名の最大文字数。
	maxNameLength = 200
)

// Service は保存済み検索のサービス層。
type Service struct {
	repo repository.QueryRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.QueryRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create は入力を検証して保存済み検索を作成する。
func (s *Service) Create(ctx context.Context, name string, filters model.QueryFilters) (*model.SavedQuery, error) {
	name = strings.TrimSpace(name)
	filters.SearchText = strings.TrimSpace(filters.SearchText)
	if err := validate(name, filters); err != nil {
		return nil, err
	}

	q := &model.SavedQuery{
		ID:        uuid.New().String(),
		Name:      name,
		Filters:   filters,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("保存済み検索の作成に失敗しました: %w", err)
	}
	return q, nil
}

// Get は保存済み検索を取得する。存在しない場合はQUERY_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.SavedQuery, error) {
	return Find(ctx, s.repo, id)
}

// Find はrepoから保存済み検索を取得する。存在しない場合はQUERY_NOT_FOUNDを返す。
// 保存済み検索を前提とする他のサービス（取り込み・統計）もこれを使う。
func Find(ctx context.Context, repo repository.QueryRepository, id string) (*model.SavedQuery, error) {
	q, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("保存済み検索の取得に失敗しました: %w", err)
	}
	if q == nil {
		return nil, model.NewQueryNotFoundError(id)
	}
	return q, nil
}

// List は保存済み検索を新しい順に最大ListLimit件返す。
func (s *Service) List(ctx context.Context) ([]*model.SavedQuery, error) {
	queries, err := s.repo.List(ctx, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("保存済み検索一覧の取得に失敗しました: %w", err)
	}
	return queries, nil
}

func validate(name string, filters model.QueryFilters) error {
	if name == "" {
		return model.NewInvalidQueryError("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.NewInvalidQueryError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}

	idLists := []struct {
		field string
		ids   []int
	}{
		{"catalog_ids", filters.CatalogIDs},
		{"brand_ids", filters.BrandIDs},
		{"size_ids", filters.SizeIDs},
	}
	for _, list := range idLists {
		for _, id := range list.ids {
			if id <= 0 {
				return model.NewInvalidQueryError(fmt.Sprintf("%s must contain positive integers", list.field))
			}
		}
	}

	if filters.PriceFrom != nil && *filters.PriceFrom < 0 {
		return model.NewInvalidQueryError("price_from must not be negative")
	}
	if filters.PriceTo != nil && *filters.PriceTo < 0 {
		return model.NewInvalidQueryError("price_to must not be negative")
	}
	if filters.PriceFrom != nil && filters.PriceTo != nil && *filters.PriceFrom > *filters.PriceTo {
		return model.NewInvalidQueryError("price_from must not exceed price_to")
	}
	return nil
}

package marketplace

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/vintedwatch/internal/model"
)

const (
	// MaxPerPage はカタログ検索1回あたりの最大取得件数。
	MaxPerPage = 96
	// DefaultPerPage はPerPage未指定時の取得件数。
	DefaultPerPage = 20
	// DefaultOrder は既定の並び順。
	DefaultOrder = "newest_first"
)

// SearchParams はカタログ検索の条件を表す。
type SearchParams struct {
	SearchText string
	CatalogIDs []int
	BrandIDs   []int
	SizeIDs    []int
	PriceFrom  *float64
	PriceTo    *float64
	Order      string
	PerPage    int
	Locale     string // Accept-Language に反映する（例: "fr-FR"）
}

// ParamsFromFilters は保存済み検索のフィルタから検索条件を組み立てる。
func ParamsFromFilters(filters model.QueryFilters, perPage int, order, locale string) SearchParams {
	return SearchParams{
		SearchText: filters.SearchText,
		CatalogIDs: filters.CatalogIDs,
		BrandIDs:   filters.BrandIDs,
		SizeIDs:    filters.SizeIDs,
		PriceFrom:  filters.PriceFrom,
		PriceTo:    filters.PriceTo,
		Order:      order,
		PerPage:    perPage,
		Locale:     locale,
	}
}

// EffectivePerPage は1〜MaxPerPageに丸めた取得件数を返す。
func (p SearchParams) EffectivePerPage() int {
	switch {
	case p.PerPage <= 0:
		return DefaultPerPage
	case p.PerPage > MaxPerPage:
		return MaxPerPage
	default:
		return p.PerPage
	}
}

// Values はカタログAPI・カタログページ共通のクエリパラメータを返す。
// ID一覧はカンマ区切りで直列化し、未指定の条件は含めない。
func (p SearchParams) Values() url.Values {
	v := url.Values{}
	v.Set("per_page", strconv.Itoa(p.EffectivePerPage()))

	order := p.Order
	if order == "" {
		order = DefaultOrder
	}
	v.Set("order", order)

	if p.SearchText != "" {
		v.Set("search_text", p.SearchText)
	}
	if len(p.CatalogIDs) > 0 {
		v.Set("catalog_ids", joinIDs(p.CatalogIDs))
	}
	if len(p.BrandIDs) > 0 {
		v.Set("brand_ids", joinIDs(p.BrandIDs))
	}
	if len(p.SizeIDs) > 0 {
		v.Set("size_ids", joinIDs(p.SizeIDs))
	}
	if p.PriceFrom != nil {
		v.Set("price_from", strconv.FormatFloat(*p.PriceFrom, 'f', -1, 64))
	}
	if p.PriceTo != nil {
		v.Set("price_to", strconv.FormatFloat(*p.PriceTo, 'f', -1, 64))
	}
	return v
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

package model

import "time"

// QueryFilters は保存済み検索のマーケットプレイス検索条件を表す。
// すべてのフィールドは任意で、未指定の条件は検索リクエストに含めない。
type QueryFilters struct {
	SearchText string   `json:"search_text"`
	CatalogIDs []int    `json:"catalog_ids"`
	BrandIDs   []int    `json:"brand_ids"`
	SizeIDs    []int    `json:"size_ids"`
	PriceFrom  *float64 `json:"price_from"`
	PriceTo    *float64 `json:"price_to"`
}

// SavedQuery は名前付きで永続化された検索条件を表す。
// 作成後は変更されず、現在のスコープでは削除もされない。
type SavedQuery struct {
	ID        string
	Name      string
	Filters   QueryFilters
	CreatedAt time.Time
}

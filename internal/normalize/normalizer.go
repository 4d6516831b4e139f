// Package normalize は取得戦略ごとに形の異なる生データ（RawItem）を
// 固定スキーマのNormalizedItemへ変換する。
// 変換は全域関数で、欠損フィールドは空文字列または0になる。
package normalize

import (
	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/security"
)

// Adapter は1つのRawFormatを正規化する。
type Adapter interface {
	Normalize(fields map[string]any) model.NormalizedItem
}

// Normalizer はRawItem.Formatに応じてAdapterを選択し正規化する。
// 未知の形式はAPI形式として扱う。
type Normalizer struct {
	adapters map[model.RawFormat]Adapter
	fallback Adapter
}

// NewNormalizer はNormalizerを生成する。
// itemBaseURLはurlを持たない出品のURL合成に使う（例: "https://www.vinted.fr/items/"）。
func NewNormalizer(itemBaseURL string, sanitizer security.TextSanitizer) *Normalizer {
	api := &apiAdapter{itemBaseURL: itemBaseURL}
	return &Normalizer{
		adapters: map[model.RawFormat]Adapter{
			model.RawFormatAPI:     api,
			model.RawFormatScraped: &scrapedAdapter{base: api, sanitizer: sanitizer},
			model.RawFormatMock:    &mockAdapter{base: api},
		},
		fallback: api,
	}
}

// Normalize はRawItemを1件正規化する。
func (n *Normalizer) Normalize(raw model.RawItem) model.NormalizedItem {
	fields := raw.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	adapter, ok := n.adapters[raw.Format]
	if !ok {
		adapter = n.fallback
	}
	return fitColumns(adapter.Normalize(fields))
}

// fitColumns は保存時にカラム長を超えないよう通貨・ブランド・サイズを切り詰める。
// サニタイズ後の値に対して適用する。
func fitColumns(item model.NormalizedItem) model.NormalizedItem {
	item.Currency = truncateRunes(item.Currency, MaxCurrencyLen)
	item.Brand = truncateRunes(item.Brand, MaxBrandLen)
	item.Size = truncateRunes(item.Size, MaxSizeLen)
	return item
}

// NormalizeAll はRawItemのスライスを順序を保って正規化する。
func (n *Normalizer) NormalizeAll(raws []model.RawItem) []model.NormalizedItem {
	items := make([]model.NormalizedItem, 0, len(raws))
	for _, raw := range raws {
		items = append(items, n.Normalize(raw))
	}
	return items
}

// apiAdapter はカタログAPI・埋め込みJSON形式のAdapter。
type apiAdapter struct {
	itemBaseURL string
}

func (a *apiAdapter) Normalize(fields map[string]any) model.NormalizedItem {
	itemID := ResolveID(fields)
	price, currency := ResolvePrice(fields["price"])

	return model.NormalizedItem{
		ItemID:   itemID,
		Title:    stringValue(fields["title"]),
		Price:    price,
		Currency: currency,
		Brand:    resolveTitled(fields, "brand"),
		Size:     resolveTitled(fields, "size"),
		URL:      ResolveURL(fields, itemID, a.itemBaseURL),
		PhotoURL: ResolvePhotoURL(fields),
		RawJSON:  fields,
	}
}

// scrapedAdapter はHTMLから抽出した形式のAdapter。
// DOM由来のテキストにはマークアップが混入しうるため、テキスト項目をサニタイズする。
type scrapedAdapter struct {
	base      *apiAdapter
	sanitizer security.TextSanitizer
}

func (a *scrapedAdapter) Normalize(fields map[string]any) model.NormalizedItem {
	item := a.base.Normalize(fields)
	item.Title = a.sanitizer.SanitizeText(item.Title)
	item.Brand = a.sanitizer.SanitizeText(item.Brand)
	item.Size = a.sanitizer.SanitizeText(item.Size)
	return item
}

// mockAdapter はモックフォールバックで生成した形式のAdapter。
type mockAdapter struct {
	base *apiAdapter
}

func (a *mockAdapter) Normalize(fields map[string]any) model.NormalizedItem {
	item := a.base.Normalize(fields)
	item.IsMock = true
	return item
}

package model

import "time"

// RawFormat は取得戦略ごとに異なる生データの形式を表す。
type RawFormat string

const (
	// RawFormatAPI はカタログAPIまたはページ埋め込みJSONから得た形式。
	// price は {amount, currency_code} のオブジェクト、photo は {url} のオブジェクトであることが多い。
	RawFormatAPI RawFormat = "api"
	// RawFormatScraped はHTMLのDOMから抽出した形式。price は "15,00 €" のような文字列。
	RawFormatScraped RawFormat = "scraped"
	// RawFormatMock はモックフォールバックで生成した形式。price は数値。
	RawFormatMock RawFormat = "mock"
)

// RawItem は取得戦略が返す未正規化の出品データ。
// フェッチ〜正規化のパイプライン内でのみ存在する。
type RawItem struct {
	Format RawFormat
	Fields map[string]any
}

// NormalizedItem は正規化済みの出品データ。
// RawItemから決定的に導出され、生成後は変更されない。
type NormalizedItem struct {
	ItemID   string
	Title    string
	Price    float64
	Currency string
	Brand    string
	Size     string
	URL      string
	PhotoURL string
	IsMock   bool
	RawJSON  map[string]any // 元のRawItem（監査・デバッグ用）
}

// StoredItem は保存済み検索ごとに永続化された出品データ。
// (QueryID, ItemID) の組は一意で、追記のみで更新・削除はされない。
type StoredItem struct {
	NormalizedItem
	ID        string
	QueryID   string
	CreatedAt time.Time
}

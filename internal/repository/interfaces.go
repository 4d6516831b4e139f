// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// QueryRepository は保存済み検索の永続化インターフェース。
type QueryRepository interface {
	// Create は保存済み検索を作成する。IDとCreatedAtは呼び出し側で設定する。
	Create(ctx context.Context, query *model.SavedQuery) error

	// FindByID は指定IDの保存済み検索を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SavedQuery, error)

	// List は保存済み検索をcreated_at降順で最大limit件返す。
	List(ctx context.Context, limit int) ([]*model.SavedQuery, error)
}

// ListingRepository は保存済み検索ごとの出品の永続化インターフェース。
// 出品は追記のみで、更新・削除は行わない。
type ListingRepository interface {
	// ExistsByQueryAndItemID は(query_id, item_id)の出品が保存済みかを返す。
	ExistsByQueryAndItemID(ctx context.Context, queryID, itemID string) (bool, error)

	// InsertIfAbsent は出品を挿入する。(query_id, item_id)が既に存在する場合は
	// 何もせずfalseを返す。並行した取り込みで競合に負けた場合もfalseになる。
	InsertIfAbsent(ctx context.Context, item *model.StoredItem) (bool, error)

	// ListPricesByQuery は保存済み検索の全出品の価格を返す。
	ListPricesByQuery(ctx context.Context, queryID string) ([]float64, error)

	// ListByQuery は保存済み検索の出品をcreated_at降順で最大limit件返す。
	ListByQuery(ctx context.Context, queryID string, limit int) ([]*model.StoredItem, error)
}

// StatsRepository は日次価格統計の永続化インターフェース。
type StatsRepository interface {
	// Upsert は(query_id, day)の統計を作成または上書きし、保存後の行を返す。
	Upsert(ctx context.Context, stat *model.DailyStat) (*model.DailyStat, error)

	// ListByQuery は保存済み検索の統計をday降順で最大limit件返す。
	ListByQuery(ctx context.Context, queryID string, limit int) ([]*model.DailyStat, error)
}

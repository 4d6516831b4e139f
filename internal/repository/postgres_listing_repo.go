package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// PostgresListingRepo はPostgreSQLを使用した出品リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// ExistsByQueryAndItemID は(query_id, item_id)の出品が保存済みかを返す。
func (r *PostgresListingRepo) ExistsByQueryAndItemID(ctx context.Context, queryID, itemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM listing_items WHERE query_id = $1 AND item_id = $2)`,
		queryID, itemID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("出品の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertIfAbsent は出品を挿入する。
// ON CONFLICT DO NOTHINGにより、(query_id, item_id)の一意性はDB側で保証される。
func (r *PostgresListingRepo) InsertIfAbsent(ctx context.Context, item *model.StoredItem) (bool, error) {
	raw := item.RawJSON
	if raw == nil {
		raw = map[string]any{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("raw_jsonのエンコードに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO listing_items
		   (id, query_id, item_id, title, price, currency, brand, size,
		    url, photo_url, is_mock, raw_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (query_id, item_id) DO NOTHING`,
		item.ID, item.QueryID, item.ItemID, item.Title, item.Price, item.Currency,
		item.Brand, item.Size, item.URL, item.PhotoURL, item.IsMock, rawJSON, item.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("出品の保存に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("保存件数の取得に失敗しました: %w", err)
	}
	return affected == 1, nil
}

// ListPricesByQuery は保存済み検索の全出品の価格を返す。
func (r *PostgresListingRepo) ListPricesByQuery(ctx context.Context, queryID string) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT price FROM listing_items WHERE query_id = $1`,
		queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("価格一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	prices := make([]float64, 0)
	for rows.Next() {
		var price float64
		if err := rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("価格のスキャンに失敗しました: %w", err)
		}
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("価格一覧の走査に失敗しました: %w", err)
	}
	return prices, nil
}

// ListByQuery は保存済み検索の出品をcreated_at降順で返す。
func (r *PostgresListingRepo) ListByQuery(ctx context.Context, queryID string, limit int) ([]*model.StoredItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, query_id, item_id, title, price, currency, brand, size,
		        url, photo_url, is_mock, raw_json, created_at
		 FROM listing_items
		 WHERE query_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		queryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("出品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := make([]*model.StoredItem, 0)
	for rows.Next() {
		item := &model.StoredItem{}
		var rawJSON []byte
		if err := rows.Scan(
			&item.ID, &item.QueryID, &item.ItemID, &item.Title, &item.Price, &item.Currency,
			&item.Brand, &item.Size, &item.URL, &item.PhotoURL, &item.IsMock, &rawJSON, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("出品のスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &item.RawJSON); err != nil {
			return nil, fmt.Errorf("raw_jsonのデコードに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出品一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

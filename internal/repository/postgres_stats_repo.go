package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用した日次価格統計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// Upsert は(query_id, day)の統計を作成または上書きする。
// 再計算時はid・created_atを維持し、集計値のみを置き換える。
func (r *PostgresStatsRepo) Upsert(ctx context.Context, stat *model.DailyStat) (*model.DailyStat, error) {
	saved := &model.DailyStat{}
	var avg, median sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO daily_stats (id, query_id, day, avg_price, median_price, item_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (query_id, day) DO UPDATE SET
		   avg_price = EXCLUDED.avg_price,
		   median_price = EXCLUDED.median_price,
		   item_count = EXCLUDED.item_count
		 RETURNING id, query_id, to_char(day, 'YYYY-MM-DD'), avg_price, median_price, item_count, created_at`,
		stat.ID, stat.QueryID, stat.Day, nullFloat(stat.AvgPrice), nullFloat(stat.MedianPrice),
		stat.ItemCount, stat.CreatedAt,
	).Scan(&saved.ID, &saved.QueryID, &saved.Day, &avg, &median, &saved.ItemCount, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("日次統計の保存に失敗しました: %w", err)
	}

	saved.AvgPrice = floatPtrValue(avg)
	saved.MedianPrice = floatPtrValue(median)
	return saved, nil
}

// ListByQuery は保存済み検索の統計をday降順で返す。
func (r *PostgresStatsRepo) ListByQuery(ctx context.Context, queryID string, limit int) ([]*model.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, query_id, to_char(day, 'YYYY-MM-DD'), avg_price, median_price, item_count, created_at
		 FROM daily_stats
		 WHERE query_id = $1
		 ORDER BY day DESC
		 LIMIT $2`,
		queryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("日次統計一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	stats := make([]*model.DailyStat, 0)
	for rows.Next() {
		stat := &model.DailyStat{}
		var avg, median sql.NullFloat64
		if err := rows.Scan(&stat.ID, &stat.QueryID, &stat.Day, &avg, &median, &stat.ItemCount, &stat.CreatedAt); err != nil {
			return nil, fmt.Errorf("日次統計のスキャンに失敗しました: %w", err)
		}
		stat.AvgPrice = floatPtrValue(avg)
		stat.MedianPrice = floatPtrValue(median)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("日次統計一覧の走査に失敗しました: %w", err)
	}
	return stats, nil
}

// nullFloat は*float64をsql.NullFloat64に変換する。nilはNULLになる。
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// floatPtrValue はsql.NullFloat64を*float64に変換する。
func floatPtrValue(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// PostgresQueryRepo はPostgreSQLを使用した保存済み検索リポジトリ。
// フィルタはJSONBカラムに保存する。
type PostgresQueryRepo struct {
	db *sql.DB
}

// NewPostgresQueryRepo はPostgresQueryRepoを生成する。
func NewPostgresQueryRepo(db *sql.DB) *PostgresQueryRepo {
	return &PostgresQueryRepo{db: db}
}

// Create は保存済み検索を作成する。
func (r *PostgresQueryRepo) Create(ctx context.Context, query *model.SavedQuery) error {
	filters, err := json.Marshal(query.Filters)
	if err != nil {
		return fmt.Errorf("検索条件のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO saved_queries (id, name, filters, created_at)
		 VALUES ($1, $2, $3, $4)`,
		query.ID, query.Name, filters, query.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("保存済み検索の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの保存済み検索を取得する。
// UUIDとして不正なIDは存在しないものとして扱い、nilを返す。
func (r *PostgresQueryRepo) FindByID(ctx context.Context, id string) (*model.SavedQuery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	query := &model.SavedQuery{}
	var filters []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, filters, created_at FROM saved_queries WHERE id = $1`,
		id,
	).Scan(&query.ID, &query.Name, &filters, &query.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("保存済み検索の取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(filters, &query.Filters); err != nil {
		return nil, fmt.Errorf("検索条件のデコードに失敗しました: %w", err)
	}
	return query, nil
}

// List は保存済み検索をcreated_at降順で返す。
func (r *PostgresQueryRepo) List(ctx context.Context, limit int) ([]*model.SavedQuery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, filters, created_at
		 FROM saved_queries
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み検索一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	queries := make([]*model.SavedQuery, 0)
	for rows.Next() {
		query := &model.SavedQuery{}
		var filters []byte
		if err := rows.Scan(&query.ID, &query.Name, &filters, &query.CreatedAt); err != nil {
			return nil, fmt.Errorf("保存済み検索のスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(filters, &query.Filters); err != nil {
			return nil, fmt.Errorf("検索条件のデコードに失敗しました: %w", err)
		}
		queries = append(queries, query)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存済み検索一覧の走査に失敗しました: %w", err)
	}
	return queries, nil
}

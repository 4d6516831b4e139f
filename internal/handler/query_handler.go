package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// QueryServiceInterface は保存済み検索ハンドラーが必要とするサービスインターフェース。
type QueryServiceInterface interface {
	Create(ctx context.Context, name string, filters model.QueryFilters) (*model.SavedQuery, error)
	List(ctx context.Context) ([]*model.SavedQuery, error)
}

// QueryHandler は保存済み検索のHTTPハンドラー。
type QueryHandler struct {
	service QueryServiceInterface
}

// NewQueryHandler はQueryHandlerを生成する。
func NewQueryHandler(service QueryServiceInterface) *QueryHandler {
	return &QueryHandler{service: service}
}

// createQueryRequest は保存済み検索作成リクエストのボディ。
// フィルタはトップレベルのフィールドとして受け取る。
type createQueryRequest struct {
	Name       string   `json:"name"`
	SearchText string   `json:"search_text"`
	CatalogIDs []int    `json:"catalog_ids"`
	BrandIDs   []int    `json:"brand_ids"`
	SizeIDs    []int    `json:"size_ids"`
	PriceFrom  *float64 `json:"price_from"`
	PriceTo    *float64 `json:"price_to"`
}

// queryResponse は保存済み検索のAPIレスポンス。
type queryResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Filters   model.QueryFilters `json:"filters"`
	CreatedAt string             `json:"created_at"`
}

// CreateQuery は保存済み検索を作成する。
// POST /api/vinted/queries
func (h *QueryHandler) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var req createQueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.service.Create(r.Context(), req.Name, model.QueryFilters{
		SearchText: req.SearchText,
		CatalogIDs: req.CatalogIDs,
		BrandIDs:   req.BrandIDs,
		SizeIDs:    req.SizeIDs,
		PriceFrom:  req.PriceFrom,
		PriceTo:    req.PriceTo,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toQueryResponse(q))
}

// ListQueries は保存済み検索の一覧を返す。
// GET /api/vinted/queries
func (h *QueryHandler) ListQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]queryResponse, 0, len(queries))
	for _, q := range queries {
		resp = append(resp, toQueryResponse(q))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toQueryResponse(q *model.SavedQuery) queryResponse {
	return queryResponse{
		ID:        q.ID,
		Name:      q.Name,
		Filters:   q.Filters,
		CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
	}
}

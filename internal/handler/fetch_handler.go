package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vintedwatch/internal/ingest"
	"github.com/hitoshi/vintedwatch/internal/middleware"
	"github.com/hitoshi/vintedwatch/internal/model"
)

// IngestServiceInterface はフェッチ・出品ハンドラーが必要とするサービスインターフェース。
type IngestServiceInterface interface {
	FetchForQuery(ctx context.Context, queryID string) (*ingest.FetchSummary, error)
	Items(ctx context.Context, queryID string, limit int) ([]*model.StoredItem, error)
}

// FetchHandler はフェッチ実行と保存済み出品のHTTPハンドラー。
type FetchHandler struct {
	service IngestServiceInterface
}

// NewFetchHandler はFetchHandlerを生成する。
func NewFetchHandler(service IngestServiceInterface) *FetchHandler {
	return &FetchHandler{service: service}
}

// fetchResponse はフェッチ実行結果のAPIレスポンス。
type fetchResponse struct {
	QueryID       string  `json:"query_id"`
	ItemsFetched  int     `json:"items_fetched"`
	ItemsNew      int     `json:"items_new"`
	ItemsExisting int     `json:"items_existing"`
	ItemsSkipped  int     `json:"items_skipped"`
	Source        string  `json:"source"`
	IsMock        bool    `json:"is_mock"`
	BlockedReason *string `json:"blocked_reason"`
}

// itemResponse は保存済み出品のAPIレスポンス。raw_jsonは含めない。
type itemResponse struct {
	ID        string  `json:"id"`
	QueryID   string  `json:"query_id"`
	ItemID    string  `json:"item_id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Brand     string  `json:"brand"`
	Size      string  `json:"size"`
	URL       string  `json:"url"`
	PhotoURL  string  `json:"photo_url"`
	IsMock    bool    `json:"is_mock"`
	CreatedAt string  `json:"created_at"`
}

type itemListResponse struct {
	QueryID string         `json:"query_id"`
	Items   []itemResponse `json:"items"`
	Count   int            `json:"count"`
}

// Fetch は保存済み検索の条件でフェッチを実行し、新しい出品を取り込む。
// POST /api/vinted/queries/{id}/fetch
func (h *FetchHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "id")

	summary, err := h.service.FetchForQuery(r.Context(), queryID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fetchResponse{
		QueryID:       summary.QueryID,
		ItemsFetched:  summary.Fetched,
		ItemsNew:      summary.New,
		ItemsExisting: summary.Existing,
		ItemsSkipped:  summary.Skipped,
		Source:        string(summary.Source),
		IsMock:        summary.IsMock,
		BlockedReason: summary.BlockedReason,
	})
}

// ListItems は保存済み検索の出品を新しい順に返す。
// GET /api/vinted/queries/{id}/items?limit=N
func (h *FetchHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "id")

	limit := ingest.DefaultItemLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > ingest.MaxItemLimit {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
		limit = n
	}

	items, err := h.service.Items(r.Context(), queryID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := itemListResponse{
		QueryID: queryID,
		Items:   make([]itemResponse, 0, len(items)),
		Count:   len(items),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:        it.ID,
			QueryID:   it.QueryID,
			ItemID:    it.ItemID,
			Title:     it.Title,
			Price:     it.Price,
			Currency:  it.Currency,
			Brand:     it.Brand,
			Size:      it.Size,
			URL:       it.URL,
			PhotoURL:  it.PhotoURL,
			IsMock:    it.IsMock,
			CreatedAt: it.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// StatsServiceInterface は統計ハンドラーが必要とするサービスインターフェース。
type StatsServiceInterface interface {
	Compute(ctx context.Context, queryID string) (*model.DailyStat, error)
	History(ctx context.Context, queryID string) ([]*model.DailyStat, error)
}

// StatsHandler は日次統計のHTTPハンドラー。
type StatsHandler struct {
	service StatsServiceInterface
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(service StatsServiceInterface) *StatsHandler {
	return &StatsHandler{service: service}
}

// statsResponse は日次統計のAPIレスポンス。対象0件の場合avg/medianはnull。
type statsResponse struct {
	QueryID     string   `json:"query_id"`
	Day         string   `json:"day"`
	AvgPrice    *float64 `json:"avg_price"`
	MedianPrice *float64 `json:"median_price"`
	ItemCount   int      `json:"item_count"`
}

// ComputeStats は当日の統計を計算して保存する。
// POST /api/vinted/queries/{id}/stats
func (h *StatsHandler) ComputeStats(w http.ResponseWriter, r *http.Request) {
	stat, err := h.service.Compute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stat))
}

// History は統計履歴を日付の新しい順に返す。
// GET /api/vinted/queries/{id}/stats
func (h *StatsHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]statsResponse, 0, len(history))
	for _, s := range history {
		resp = append(resp, toStatsResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toStatsResponse(s *model.DailyStat) statsResponse {
	return statsResponse{
		QueryID:     s.QueryID,
		Day:         s.Day,
		AvgPrice:    s.AvgPrice,
		MedianPrice: s.MedianPrice,
		ItemCount:   s.ItemCount,
	}
}

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hitoshi/vintedwatch/internal/marketplace"
	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/normalize"
	"github.com/hitoshi/vintedwatch/internal/security"
)

// memListingRepo はListingRepositoryのインメモリ実装。
// (query_id, item_id)の一意性をInsertIfAbsentで保証する。
type memListingRepo struct {
	items map[string]*model.StoredItem
	// staleExists はExistsByQueryAndItemIDが常にfalseを返すようにする（競合の再現用）。
	staleExists bool
	existsErr   error
	insertErr   error
	listLimit   int

	// checkColumns はlisting_itemsのカラム制約（NUMERIC(12,2)、VARCHAR長）を再現する。
	checkColumns bool
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{items: make(map[string]*model.StoredItem)}
}

func (m *memListingRepo) key(queryID, itemID string) string { return queryID + "/" + itemID }

func (m *memListingRepo) ExistsByQueryAndItemID(_ context.Context, queryID, itemID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	if m.staleExists {
		return false, nil
	}
	_, ok := m.items[m.key(queryID, itemID)]
	return ok, nil
}

func (m *memListingRepo) InsertIfAbsent(_ context.Context, item *model.StoredItem) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if m.checkColumns {
		if err := violatesColumns(item); err != nil {
			return false, err
		}
	}
	k := m.key(item.QueryID, item.ItemID)
	if _, ok := m.items[k]; ok {
		return false, nil
	}
	m.items[k] = item
	return true, nil
}

func violatesColumns(item *model.StoredItem) error {
	switch {
	case math.IsNaN(item.Price) || math.IsInf(item.Price, 0) || item.Price < 0 || item.Price >= 1e10:
		return fmt.Errorf("numeric field overflow: %v", item.Price)
	case utf8.RuneCountInString(item.Currency) > 8:
		return errors.New("value too long for type character varying(8)")
	case utf8.RuneCountInString(item.Brand) > 255:
		return errors.New("value too long for type character varying(255)")
	case utf8.RuneCountInString(item.Size) > 100:
		return errors.New("value too long for type character varying(100)")
	}
	return nil
}

func (m *memListingRepo) ListPricesByQuery(_ context.Context, _ string) ([]float64, error) {
	return nil, nil
}

func (m *memListingRepo) ListByQuery(_ context.Context, queryID string, limit int) ([]*model.StoredItem, error) {
	m.listLimit = limit
	var out []*model.StoredItem
	for _, item := range m.items {
		if item.QueryID == queryID {
			out = append(out, item)
		}
	}
	return out, nil
}

// mockQueryRepo はQueryRepositoryのテスト用モック。
type mockQueryRepo struct {
	queries map[string]*model.SavedQuery
	err     error
}

func (m *mockQueryRepo) Create(_ context.Context, _ *model.SavedQuery) error { return nil }

func (m *mockQueryRepo) FindByID(_ context.Context, id string) (*model.SavedQuery, error) {
	return m.queries[id], m.err
}

func (m *mockQueryRepo) List(_ context.Context, _ int) ([]*model.SavedQuery, error) {
	return nil, nil
}

// mockFetcher はFetcherのテスト用モック。
type mockFetcher struct {
	result     model.FetchResult
	calledWith *marketplace.SearchParams
}

func (m *mockFetcher) Fetch(_ context.Context, params marketplace.SearchParams) model.FetchResult {
	m.calledWith = &params
	return m.result
}

// mockRecorder はRecorderのテスト用モック。
type mockRecorder struct {
	newTotal, existingTotal int
}

func (m *mockRecorder) RecordItemsIngested(newCount, existingCount int) {
	m.newTotal += newCount
	m.existingTotal += existingCount
}

func newTestService(queries *mockQueryRepo, listings *memListingRepo, fetcher Fetcher, rec Recorder) *Service {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewService(
		queries,
		listings,
		fetcher,
		normalize.NewNormalizer("https://www.vinted.fr/items/", security.NewTextSanitizer()),
		rec,
		logger,
		Options{PerPage: 20, Order: "newest_first"},
	)
}

func rawItems(ids ...string) []model.RawItem {
	items := make([]model.RawItem, len(ids))
	for i, id := range ids {
		items[i] = model.RawItem{
			Format: model.RawFormatAPI,
			Fields: map[string]any{"id": id, "title": "item " + id, "price": 10.0},
		}
	}
	return items
}

// TestIngest_Idempotent は同じ出品を2回取り込むと2回目は全て既存になることをテストする。
func TestIngest_Idempotent(t *testing.T) {
	listings := newMemListingRepo()
	rec := &mockRecorder{}
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, rec)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "q1", rawItems("1", "2", "3"))
	if err != nil {
		t.Fatalf("first Ingest returned error: %v", err)
	}
	if first.New != 3 || first.Existing != 0 {
		t.Errorf("first = %+v, want New=3 Existing=0", first)
	}

	second, err := svc.Ingest(ctx, "q1", rawItems("1", "2", "3"))
	if err != nil {
		t.Fatalf("second Ingest returned error: %v", err)
	}
	if second.New != 0 || second.Existing != first.New {
		t.Errorf("second = %+v, want New=0 Existing=%d", second, first.New)
	}
	if len(listings.items) != 3 {
		t.Errorf("stored = %d, want 3", len(listings.items))
	}
	if rec.newTotal != 3 || rec.existingTotal != 3 {
		t.Errorf("recorder = %+v", rec)
	}
}

// TestIngest_PerQuery は同じitem_idでも保存済み検索が異なれば別に保存されることをテストする。
func TestIngest_PerQuery(t *testing.T) {
	listings := newMemListingRepo()
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, nil)

	if _, err := svc.Ingest(context.Background(), "q1", rawItems("7")); err != nil {
		t.Fatal(err)
	}
	counts, err := svc.Ingest(context.Background(), "q2", rawItems("7"))
	if err != nil {
		t.Fatal(err)
	}
	if counts.New != 1 {
		t.Errorf("New = %d, want 1", counts.New)
	}
}

// TestIngest_LostRaceCountsAsExisting は存在確認後に一意制約で弾かれた出品が既存として数えられることをテストする。
func TestIngest_LostRaceCountsAsExisting(t *testing.T) {
	listings := newMemListingRepo()
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, nil)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "q1", rawItems("1")); err != nil {
		t.Fatal(err)
	}

	listings.staleExists = true
	counts, err := svc.Ingest(ctx, "q1", rawItems("1", "2"))
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if counts.New != 1 || counts.Existing != 1 {
		t.Errorf("counts = %+v, want New=1 Existing=1", counts)
	}
}

func TestIngest_DuplicatesWithinBatch(t *testing.T) {
	svc := newTestService(&mockQueryRepo{}, newMemListingRepo(), &mockFetcher{}, nil)

	counts, err := svc.Ingest(context.Background(), "q1", rawItems("5", "5"))
	if err != nil {
		t.Fatal(err)
	}
	if counts.New != 1 || counts.Existing != 1 {
		t.Errorf("counts = %+v, want New=1 Existing=1", counts)
	}
}

func TestIngest_SkipsItemsWithoutID(t *testing.T) {
	listings := newMemListingRepo()
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, nil)

	counts, err := svc.Ingest(context.Background(), "q1", []model.RawItem{
		{Format: model.RawFormatScraped, Fields: map[string]any{"title": "no id"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 1 || counts.New != 0 || len(listings.items) != 0 {
		t.Errorf("counts = %+v, stored = %d", counts, len(listings.items))
	}
}

// TestIngest_MalformedFieldsDoNotAbortBatch は桁あふれの価格や長すぎるテキストを含む出品があっても
// バッチ全体が保存されることをテストする。
func TestIngest_MalformedFieldsDoNotAbortBatch(t *testing.T) {
	listings := newMemListingRepo()
	listings.checkColumns = true
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, nil)

	raws := append(rawItems("1"),
		model.RawItem{Format: model.RawFormatAPI, Fields: map[string]any{
			"id":    "2",
			"price": map[string]any{"amount": "1e400", "currency_code": strings.Repeat("X", 20)},
			"brand": strings.Repeat("b", 400),
		}},
		model.RawItem{Format: model.RawFormatScraped, Fields: map[string]any{
			"id":    "3",
			"price": "12345678901234 €",
			"size":  strings.Repeat("s", 200),
		}},
	)
	raws = append(raws, rawItems("4")...)

	counts, err := svc.Ingest(context.Background(), "q1", raws)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if counts.New != 4 {
		t.Errorf("New = %d, want 4", counts.New)
	}
	for _, id := range []string{"2", "3"} {
		stored := listings.items[listings.key("q1", id)]
		if stored == nil {
			t.Fatalf("item %s not stored", id)
		}
		if stored.Price != 0 {
			t.Errorf("item %s price = %v, want 0", id, stored.Price)
		}
	}
}

func TestIngest_StorageError(t *testing.T) {
	listings := newMemListingRepo()
	listings.insertErr = errors.New("connection reset")
	svc := newTestService(&mockQueryRepo{}, listings, &mockFetcher{}, nil)

	if _, err := svc.Ingest(context.Background(), "q1", rawItems("1")); err == nil {
		t.Fatal("expected storage error")
	}
}

func TestFetchForQuery_Mock(t *testing.T) {
	priceTo := 30.0
	queries := &mockQueryRepo{queries: map[string]*model.SavedQuery{
		"q1": {ID: "q1", Name: "nike", Filters: model.QueryFilters{SearchText: "nike", BrandIDs: []int{53}, PriceTo: &priceTo}},
	}}
	reason := "live data unavailable (api: HTTP 403 (blocked by marketplace))"
	fetcher := &mockFetcher{result: model.FetchResult{
		Items:         []model.RawItem{{Format: model.RawFormatMock, Fields: map[string]any{"id": "mock-1", "price": 12.5}}},
		Source:        model.FetchSourceMock,
		IsMock:        true,
		BlockedReason: &reason,
	}}
	listings := newMemListingRepo()
	svc := newTestService(queries, listings, fetcher, nil)

	summary, err := svc.FetchForQuery(context.Background(), "q1")
	if err != nil {
		t.Fatalf("FetchForQuery returned error: %v", err)
	}

	if summary.QueryID != "q1" || summary.Fetched != 1 || summary.New != 1 || summary.Existing != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Source != model.FetchSourceMock || !summary.IsMock || summary.BlockedReason == nil {
		t.Errorf("provenance = %v %v %v", summary.Source, summary.IsMock, summary.BlockedReason)
	}
	stored := listings.items["q1/mock-1"]
	if stored == nil || !stored.IsMock {
		t.Errorf("stored = %+v, want mock item", stored)
	}

	params := fetcher.calledWith
	if params == nil {
		t.Fatal("fetcher was not called")
	}
	if params.SearchText != "nike" || params.PerPage != 20 || params.Order != "newest_first" {
		t.Errorf("params = %+v", params)
	}
	if params.PriceTo == nil || *params.PriceTo != 30 {
		t.Errorf("PriceTo = %v", params.PriceTo)
	}
}

func TestFetchForQuery_NotFound(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := newTestService(&mockQueryRepo{}, newMemListingRepo(), fetcher, nil)

	_, err := svc.FetchForQuery(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeQueryNotFound {
		t.Fatalf("error = %v, want QUERY_NOT_FOUND", err)
	}
	if fetcher.calledWith != nil {
		t.Error("fetcher should not be called for an unknown query")
	}
}

func TestFetchForQuery_RepoError(t *testing.T) {
	svc := newTestService(&mockQueryRepo{err: errors.New("db down")}, newMemListingRepo(), &mockFetcher{}, nil)

	_, err := svc.FetchForQuery(context.Background(), "q1")
	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("error = %v, want non-API storage error", err)
	}
}

func TestItems(t *testing.T) {
	queries := &mockQueryRepo{queries: map[string]*model.SavedQuery{"q1": {ID: "q1"}}}
	listings := newMemListingRepo()
	svc := newTestService(queries, listings, &mockFetcher{}, nil)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "q1", rawItems("1", "2")); err != nil {
		t.Fatal(err)
	}

	items, err := svc.Items(ctx, "q1", 10)
	if err != nil {
		t.Fatalf("Items returned error: %v", err)
	}
	if len(items) != 2 || listings.listLimit != 10 {
		t.Errorf("items = %d, limit = %d", len(items), listings.listLimit)
	}
}

func TestItems_Errors(t *testing.T) {
	queries := &mockQueryRepo{queries: map[string]*model.SavedQuery{"q1": {ID: "q1"}}}
	svc := newTestService(queries, newMemListingRepo(), &mockFetcher{}, nil)

	tests := []struct {
		name     string
		queryID  string
		limit    int
		wantCode string
	}{
		{"limit 0", "q1", 0, model.ErrCodeInvalidLimit},
		{"limit over max", "q1", MaxItemLimit + 1, model.ErrCodeInvalidLimit},
		{"unknown query", "missing", DefaultItemLimit, model.ErrCodeQueryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Items(context.Background(), tt.queryID, tt.limit)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

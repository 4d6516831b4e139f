package marketplace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/vintedwatch/internal/model"
	"github.com/hitoshi/vintedwatch/internal/security"
)

func newTestLogger(buf io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeRecorder はAttemptRecorderのテスト用実装。
type fakeRecorder struct {
	mu       sync.Mutex
	attempts []string
	sources  []string
}

func (r *fakeRecorder) RecordStrategyAttempt(strategy, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, strategy+":"+outcome)
}

func (r *fakeRecorder) RecordFetchSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

// fakeMarketplace はマーケットプレイスのテスト用サーバー。
type fakeMarketplace struct {
	mu            sync.Mutex
	apiStatus     int
	apiBody       string
	requireCookie bool
	homeStatus    int
	pageStatus    int
	pageBody      string
	paths         []string
	userAgents    []string
	apiQueries    []string
}

func (f *fakeMarketplace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.userAgents = append(f.userAgents, r.Header.Get("User-Agent"))
	f.mu.Unlock()

	switch r.URL.Path {
	case "/":
		http.SetCookie(w, &http.Cookie{Name: "_vinted_session", Value: "s3ss10n", Path: "/"})
		w.WriteHeader(orDefault(f.homeStatus, http.StatusOK))
	case catalogAPIPath:
		f.mu.Lock()
		f.apiQueries = append(f.apiQueries, r.URL.RawQuery)
		f.mu.Unlock()
		if f.requireCookie {
			if c, err := r.Cookie("_vinted_session"); err == nil && c.Value == "s3ss10n" {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, f.apiBody)
				return
			}
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(orDefault(f.apiStatus, http.StatusOK))
		fmt.Fprint(w, f.apiBody)
	case catalogPagePath:
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(orDefault(f.pageStatus, http.StatusOK))
		fmt.Fprint(w, f.pageBody)
	default:
		http.NotFound(w, r)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func catalogJSON(n int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf(`{"id":%d,"title":"item %d","price":{"amount":"%d.50","currency_code":"EUR"}}`, 1000+i, i, 10+i)
	}
	return `{"items":[` + strings.Join(parts, ",") + `]}`
}

// newTestChain はテストサーバー向けの標準チェーンと、ウェイト回数のカウンタを返す。
func newTestChain(t *testing.T, serverURL string, recorder AttemptRecorder) (*Chain, *int) {
	t.Helper()
	var buf bytes.Buffer
	client := NewClient(ClientConfig{
		BaseURL:     serverURL,
		Timeout:     5 * time.Second,
		Delay:       time.Second,
		MaxBodySize: 1 << 20,
	}, security.PlainGuard{}, newTestLogger(&buf))

	sleeps := 0
	client.sleep = func(_ context.Context, d time.Duration) error {
		if d != time.Second {
			t.Errorf("delay = %v, want 1s", d)
		}
		sleeps++
		return nil
	}
	return NewDefaultChain(client, recorder, newTestLogger(&buf)), &sleeps
}

func TestChain_Fetch_APISuccess(t *testing.T) {
	fm := &fakeMarketplace{apiBody: catalogJSON(3)}
	server := httptest.NewServer(fm)
	defer server.Close()

	rec := &fakeRecorder{}
	chain, sleeps := newTestChain(t, server.URL, rec)

	result := chain.Fetch(context.Background(), SearchParams{SearchText: "nike", BrandIDs: []int{53, 14}, PerPage: 20})

	if result.Source != model.FetchSourceLive || result.IsMock {
		t.Fatalf("Source = %q IsMock = %v, want live", result.Source, result.IsMock)
	}
	if result.BlockedReason != nil {
		t.Errorf("BlockedReason = %q, want nil", *result.BlockedReason)
	}
	if len(result.Items) != 3 {
		t.Fatalf("len = %d, want 3", len(result.Items))
	}
	if result.Items[0].Format != model.RawFormatAPI {
		t.Errorf("Format = %q, want api", result.Items[0].Format)
	}
	if *sleeps != 1 {
		t.Errorf("sleeps = %d, want 1", *sleeps)
	}
	if len(fm.apiQueries) != 1 || !strings.Contains(fm.apiQueries[0], "brand_ids=53%2C14") {
		t.Errorf("api queries = %v", fm.apiQueries)
	}
	if !strings.HasPrefix(fm.userAgents[0], "Mozilla/5.0") {
		t.Errorf("User-Agent = %q, want browser-like", fm.userAgents[0])
	}
	if strings.Join(rec.attempts, ",") != "api:items" {
		t.Errorf("attempts = %v", rec.attempts)
	}
	if strings.Join(rec.sources, ",") != "live" {
		t.Errorf("sources = %v", rec.sources)
	}
}

// TestChain_Fetch_SessionAfterBlocked はAPIが403の場合にセッションCookie付きで再試行することをテストする。
func TestChain_Fetch_SessionAfterBlocked(t *testing.T) {
	fm := &fakeMarketplace{apiBody: catalogJSON(2), requireCookie: true}
	server := httptest.NewServer(fm)
	defer server.Close()

	rec := &fakeRecorder{}
	chain, sleeps := newTestChain(t, server.URL, rec)

	result := chain.Fetch(context.Background(), SearchParams{SearchText: "robe"})

	if result.Source != model.FetchSourceLive {
		t.Fatalf("Source = %q, want live", result.Source)
	}
	if len(result.Items) != 2 {
		t.Errorf("len = %d, want 2", len(result.Items))
	}
	wantPaths := []string{catalogAPIPath, "/", catalogAPIPath}
	if strings.Join(fm.paths, ",") != strings.Join(wantPaths, ",") {
		t.Errorf("paths = %v, want %v", fm.paths, wantPaths)
	}
	if *sleeps != 3 {
		t.Errorf("sleeps = %d, want 3", *sleeps)
	}
	if strings.Join(rec.attempts, ",") != "api:error,session:items" {
		t.Errorf("attempts = %v", rec.attempts)
	}
}

func TestChain_Fetch_ScrapeAfterAPIFailures(t *testing.T) {
	fm := &fakeMarketplace{
		apiStatus: http.StatusForbidden,
		pageBody: `<html><body>
			<div class="feed-grid__item"><a href="/items/11-robe" title="Robe"></a><span>12,00 €</span></div>
			<div class="feed-grid__item"><a href="/items/12-jupe" title="Jupe"></a><span>8,50 €</span></div>
		</body></html>`,
	}
	server := httptest.NewServer(fm)
	defer server.Close()

	chain, _ := newTestChain(t, server.URL, nil)

	result := chain.Fetch(context.Background(), SearchParams{})

	if result.Source != model.FetchSourceLive {
		t.Fatalf("Source = %q, want live", result.Source)
	}
	if len(result.Items) != 2 || result.Items[0].Format != model.RawFormatScraped {
		t.Fatalf("items = %+v", result.Items)
	}
	if result.Items[0].Fields["id"] != "11" {
		t.Errorf("id = %v, want 11", result.Items[0].Fields["id"])
	}
}

// TestChain_Fetch_FallsBackToMock は全戦略が失敗した場合にモックと理由を返すことをテストする。
func TestChain_Fetch_FallsBackToMock(t *testing.T) {
	fm := &fakeMarketplace{
		apiStatus:  http.StatusForbidden,
		pageStatus: http.StatusForbidden,
	}
	server := httptest.NewServer(fm)
	defer server.Close()

	rec := &fakeRecorder{}
	chain, sleeps := newTestChain(t, server.URL, rec)

	result := chain.Fetch(context.Background(), SearchParams{SearchText: "nike", PerPage: 7})

	if result.Source != model.FetchSourceMock || !result.IsMock {
		t.Fatalf("Source = %q IsMock = %v, want mock", result.Source, result.IsMock)
	}
	if len(result.Items) != 7 {
		t.Errorf("len = %d, want 7", len(result.Items))
	}
	if result.BlockedReason == nil {
		t.Fatal("BlockedReason should be set")
	}
	for _, want := range []string{"api: HTTP 403", "session: HTTP 403", "scrape: HTTP 403"} {
		if !strings.Contains(*result.BlockedReason, want) {
			t.Errorf("BlockedReason = %q, want to contain %q", *result.BlockedReason, want)
		}
	}
	// api(1) + session(トップ+API 2) + scrape(1)。モックにはウェイトしない。
	if *sleeps != 4 {
		t.Errorf("sleeps = %d, want 4", *sleeps)
	}
	if strings.Join(rec.attempts, ",") != "api:error,session:error,scrape:error,mock:items" {
		t.Errorf("attempts = %v", rec.attempts)
	}
	if strings.Join(rec.sources, ",") != "mock" {
		t.Errorf("sources = %v", rec.sources)
	}
}

// TestChain_Fetch_EmptyResultsFallThrough は0件の成功レスポンスも次の戦略へ進むことをテストする。
func TestChain_Fetch_EmptyResultsFallThrough(t *testing.T) {
	fm := &fakeMarketplace{
		apiBody:  `{"items":[]}`,
		pageBody: `<html><body><p>Aucun résultat</p></body></html>`,
	}
	server := httptest.NewServer(fm)
	defer server.Close()

	chain, _ := newTestChain(t, server.URL, nil)

	result := chain.Fetch(context.Background(), SearchParams{PerPage: 2})

	if !result.IsMock {
		t.Fatal("expected mock fallback")
	}
	if !strings.Contains(*result.BlockedReason, "api: catalog response contained no items") {
		t.Errorf("BlockedReason = %q", *result.BlockedReason)
	}
	if !strings.Contains(*result.BlockedReason, "scrape: no items found in catalog page") {
		t.Errorf("BlockedReason = %q", *result.BlockedReason)
	}
}

func TestChain_Fetch_TruncatesToPerPage(t *testing.T) {
	fm := &fakeMarketplace{apiBody: catalogJSON(30)}
	server := httptest.NewServer(fm)
	defer server.Close()

	chain, _ := newTestChain(t, server.URL, nil)

	result := chain.Fetch(context.Background(), SearchParams{PerPage: 5})
	if len(result.Items) != 5 {
		t.Errorf("len = %d, want 5", len(result.Items))
	}
}

// TestChain_Fetch_ServerDown は接続できない場合もエラーを返さずモックになることをテストする。
func TestChain_Fetch_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	chain, _ := newTestChain(t, url, nil)

	result := chain.Fetch(context.Background(), SearchParams{PerPage: 1})
	if !result.IsMock || result.BlockedReason == nil {
		t.Fatalf("expected mock with reason, got %+v", result)
	}
}

func TestClient_Get_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	}))
	defer server.Close()

	var buf bytes.Buffer
	client := NewClient(ClientConfig{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		MaxBodySize: 1024,
	}, security.PlainGuard{}, newTestLogger(&buf))

	outcome := NewAPIStrategy(client).Attempt(context.Background(), SearchParams{})
	if outcome.Kind != OutcomeError {
		t.Fatalf("Kind = %v, want error", outcome.Kind)
	}
	if !strings.Contains(outcome.Detail, "上限") {
		t.Errorf("Detail = %q", outcome.Detail)
	}
}

func TestClient_Get_LocaleHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Accept-Language")
		fmt.Fprint(w, `{"items":[{"id":1}]}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	client := NewClient(ClientConfig{BaseURL: server.URL + "/", Timeout: 5 * time.Second}, security.PlainGuard{}, newTestLogger(&buf))

	outcome := NewAPIStrategy(client).Attempt(context.Background(), SearchParams{Locale: "fr-FR"})
	if outcome.Kind != OutcomeItems {
		t.Fatalf("Kind = %v, want items (%s)", outcome.Kind, outcome.Detail)
	}
	if got != "fr-FR,en;q=0.8" {
		t.Errorf("Accept-Language = %q", got)
	}
}

func TestSleepContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); err == nil {
		t.Error("canceled context should abort the delay")
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero delay should not fail: %v", err)
	}
}

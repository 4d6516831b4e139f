package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/cookiejar"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// catalogAPIPath はカタログ検索APIのパス。
const catalogAPIPath = "/api/v2/catalog/items"

// APIStrategy はCookieなしでカタログAPIを直接呼び出す。
type APIStrategy struct {
	client *Client
}

// NewAPIStrategy はAPIStrategyを生成する。
func NewAPIStrategy(client *Client) *APIStrategy {
	return &APIStrategy{client: client}
}

// Name は戦略名を返す。
func (s *APIStrategy) Name() string { return "api" }

// Attempt はカタログAPIを1回呼び出す。
func (s *APIStrategy) Attempt(ctx context.Context, params SearchParams) Outcome {
	return fetchCatalogAPI(ctx, s.client, s.client.newRestyClient(nil), params)
}

// SessionStrategy は新しいCookie Jarでトップページを取得してセッションCookieを得た後、
// 同じクライアントでカタログAPIを呼び出す。
type SessionStrategy struct {
	client *Client
}

// NewSessionStrategy はSessionStrategyを生成する。
func NewSessionStrategy(client *Client) *SessionStrategy {
	return &SessionStrategy{client: client}
}

// Name は戦略名を返す。
func (s *SessionStrategy) Name() string { return "session" }

// Attempt はセッション確立とカタログAPI呼び出しを行う。
// トップページが200以外でもCookieが発行されている可能性があるためAPI呼び出しは続行する。
func (s *SessionStrategy) Attempt(ctx context.Context, params SearchParams) Outcome {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return errorOutcome(err, 0, "cookie jar unavailable")
	}
	rc := s.client.newRestyClient(jar)

	status, _, err := s.client.get(ctx, rc, "/", nil, acceptHTML, params.Locale)
	if err != nil {
		return errorOutcome(fmt.Errorf("セッション確立に失敗: %w", err), 0, "session bootstrap failed: "+err.Error())
	}
	if ClassifyHTTPStatus(status) != StatusOK {
		s.client.logger.Debug("トップページが200以外を返しました",
			slog.Int("http_status", status),
		)
	}

	return fetchCatalogAPI(ctx, s.client, rc, params)
}

// fetchCatalogAPI はカタログAPIを呼び出し、結果をOutcomeへ分類する。
func fetchCatalogAPI(ctx context.Context, c *Client, rc *resty.Client, params SearchParams) Outcome {
	status, body, err := c.get(ctx, rc, catalogAPIPath, params.Values(), acceptJSON, params.Locale)
	if err != nil {
		return errorOutcome(err, status, err.Error())
	}
	if ClassifyHTTPStatus(status) != StatusOK {
		detail := describeStatus(status)
		return errorOutcome(fmt.Errorf("catalog api: %s", detail), status, detail)
	}

	items, err := decodeCatalogItems(body)
	if err != nil {
		return errorOutcome(err, status, "invalid catalog response")
	}
	return itemsOutcome(truncate(items, params.EffectivePerPage()), status, "catalog response contained no items")
}

// decodeCatalogItems はカタログAPIのレスポンス {"items": [...]} をデコードする。
// 数値はjson.Numberとして保持し、大きなIDの精度を落とさない。
func decodeCatalogItems(body []byte) ([]model.RawItem, error) {
	var payload struct {
		Items []map[string]any `json:"items"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("カタログレスポンスのデコードに失敗: %w", err)
	}

	items := make([]model.RawItem, 0, len(payload.Items))
	for _, fields := range payload.Items {
		if fields == nil {
			continue
		}
		items = append(items, model.RawItem{Format: model.RawFormatAPI, Fields: fields})
	}
	return items, nil
}

// truncate は先頭からlimit件に切り詰める。
func truncate(items []model.RawItem, limit int) []model.RawItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

package marketplace

import (
	"context"
	"fmt"
)

// catalogPagePath はカタログ検索ページのパス。
const catalogPagePath = "/catalog"

// ScrapeStrategy はカタログ検索ページのHTMLを取得し、出品を抽出する。
type ScrapeStrategy struct {
	client *Client
}

// NewScrapeStrategy はScrapeStrategyを生成する。
func NewScrapeStrategy(client *Client) *ScrapeStrategy {
	return &ScrapeStrategy{client: client}
}

// Name は戦略名を返す。
func (s *ScrapeStrategy) Name() string { return "scrape" }

// Attempt はカタログページを取得し、ExtractItemsで出品を抽出する。
func (s *ScrapeStrategy) Attempt(ctx context.Context, params SearchParams) Outcome {
	rc := s.client.newRestyClient(nil)

	status, body, err := s.client.get(ctx, rc, catalogPagePath, params.Values(), acceptHTML, params.Locale)
	if err != nil {
		return errorOutcome(err, status, err.Error())
	}
	if ClassifyHTTPStatus(status) != StatusOK {
		detail := describeStatus(status)
		return errorOutcome(fmt.Errorf("catalog page: %s", detail), status, detail)
	}

	items, err := ExtractItems(body, s.client.BaseURL())
	if err != nil {
		return errorOutcome(err, status, "catalog page could not be parsed")
	}
	return itemsOutcome(truncate(items, params.EffectivePerPage()), status, "no items found in catalog page")
}

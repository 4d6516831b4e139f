package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// maxSearchDepth は埋め込みJSONを探索する最大深さ。
const maxSearchDepth = 16

var (
	// inlineStatePatterns はインラインスクリプト中のJSON開始位置を示すパターン。
	// マッチ直後から括弧の対応を取ってJSONを切り出す。
	inlineStatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`window\.__(?:INITIAL|PRELOADED)_STATE__\s*=\s*`),
		regexp.MustCompile(`"catalogItems"\s*:\s*`),
		regexp.MustCompile(`"items"\s*:\s*`),
	}

	// cardSelectors は出品カードのセレクタ（優先順）。
	cardSelectors = []string{
		`[data-testid^="grid-item"]`,
		`div.feed-grid__item`,
		`div.new-item-box__container`,
	}

	itemHrefPattern = regexp.MustCompile(`/items/(\d+)`)
	pricePattern    = regexp.MustCompile(`(?:[€£$]\s*\d+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?\s*(?:€|£|\$|EUR|zł|Kč))`)

	// itemArrayKeys は出品配列を保持しやすいキー（優先順）。
	itemArrayKeys = []string{"items", "catalogItems", "catalog_items"}
)

// extractor はHTMLから出品を抽出する1つの手法。
type extractor struct {
	name string
	fn   func(doc *goquery.Document, base *url.URL) []model.RawItem
}

var extractors = []extractor{
	{name: "next_data", fn: extractNextData},
	{name: "inline_state", fn: extractInlineState},
	{name: "item_cards", fn: extractItemCards},
	{name: "item_anchors", fn: extractItemAnchors},
}

// ExtractItems はカタログページのHTMLから出品を抽出する。
// 抽出手法を順に試し、最初に1件以上を返した手法の結果を採用する。
// 全手法が0件の場合は空スライスを返す（エラーではない）。
func ExtractItems(body []byte, baseURL string) ([]model.RawItem, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ベースURLの解析に失敗: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTMLの解析に失敗: %w", err)
	}

	for _, ex := range extractors {
		if items := ex.fn(doc, base); len(items) > 0 {
			return items, nil
		}
	}
	return []model.RawItem{}, nil
}

// extractNextData は script#__NEXT_DATA__ のJSONから出品配列を探す。
func extractNextData(doc *goquery.Document, _ *url.URL) []model.RawItem {
	text := strings.TrimSpace(doc.Find(`script#__NEXT_DATA__`).First().Text())
	if text == "" {
		return nil
	}
	v, ok := decodeJSON(text)
	if !ok {
		return nil
	}
	return toAPIItems(findItemArray(v, 0))
}

// extractInlineState はインラインスクリプトの状態オブジェクトから出品配列を探す。
// HTMLエンティティをデコードしてからパターンを適用する。
func extractInlineState(doc *goquery.Document, _ *url.URL) []model.RawItem {
	var found []model.RawItem
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := html.UnescapeString(s.Text())
		if text == "" {
			return true
		}
		candidates := []string{text}
		// JSON文字列として二重にエスケープされた埋め込み（\"items\":[...]）
		if strings.Contains(text, `\"`) {
			candidates = append(candidates, strings.ReplaceAll(text, `\"`, `"`))
		}
		for _, candidate := range candidates {
			if items := scanInlineState(candidate); len(items) > 0 {
				found = items
				return false
			}
		}
		return true
	})
	return found
}

func scanInlineState(text string) []model.RawItem {
	for _, pattern := range inlineStatePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			fragment, ok := balancedJSON(text, loc[1])
			if !ok {
				continue
			}
			v, ok := decodeJSON(fragment)
			if !ok {
				continue
			}
			if items := toAPIItems(findItemArray(v, 0)); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

// extractItemCards は出品カード要素から出品を組み立てる。
func extractItemCards(doc *goquery.Document, base *url.URL) []model.RawItem {
	for _, selector := range cardSelectors {
		cards := doc.Find(selector)
		if cards.Length() == 0 {
			continue
		}

		seen := make(map[string]bool)
		var items []model.RawItem
		cards.Each(func(_ int, card *goquery.Selection) {
			fields, ok := cardFields(card, base)
			if !ok || seen[fields["id"].(string)] {
				return
			}
			seen[fields["id"].(string)] = true
			items = append(items, model.RawItem{Format: model.RawFormatScraped, Fields: fields})
		})
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

func cardFields(card *goquery.Selection, base *url.URL) (map[string]any, bool) {
	link := card.Find(`a[href*="/items/"]`).First()
	if link.Length() == 0 && goquery.NodeName(card) == "a" {
		link = card
	}
	href, _ := link.Attr("href")
	id := itemIDFromHref(href)
	if id == "" {
		return nil, false
	}

	fields := map[string]any{
		"id":  id,
		"url": absoluteURL(base, href),
	}

	title := firstText(card, `[data-testid$="--description-title"]`, `.new-item-box__title`)
	if title == "" {
		title = strings.TrimSpace(link.AttrOr("title", ""))
	}
	if title == "" {
		title = strings.TrimSpace(card.Find("img").First().AttrOr("alt", ""))
	}
	fields["title"] = title

	if brand := firstText(card, `[data-testid$="--description-subtitle"]`, `.new-item-box__description`); brand != "" {
		fields["brand"] = brand
	}

	price := firstText(card, `[data-testid$="--price-text"]`, `.new-item-box__price`)
	if price == "" {
		price = pricePattern.FindString(card.Text())
	}
	if price != "" {
		fields["price"] = price
	}

	if src := card.Find("img").First().AttrOr("src", ""); src != "" {
		fields["photo"] = absoluteURL(base, src)
	}
	return fields, true
}

// extractItemAnchors は /items/{id} へのリンクから最低限の出品を組み立てる。
// 価格はリンクの祖先要素（3階層まで）のテキストから探す。
func extractItemAnchors(doc *goquery.Document, base *url.URL) []model.RawItem {
	seen := make(map[string]bool)
	var items []model.RawItem

	doc.Find(`a[href*="/items/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		id := itemIDFromHref(href)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true

		title := strings.TrimSpace(a.AttrOr("title", ""))
		if title == "" {
			title = strings.Join(strings.Fields(a.Text()), " ")
		}
		fields := map[string]any{
			"id":    id,
			"title": title,
			"url":   absoluteURL(base, href),
		}

		node := a
		for range 3 {
			if price := pricePattern.FindString(node.Text()); price != "" {
				fields["price"] = price
				break
			}
			node = node.Parent()
			if node.Length() == 0 {
				break
			}
		}
		items = append(items, model.RawItem{Format: model.RawFormatScraped, Fields: fields})
	})
	return items
}

// balancedJSON はtext[start:]の先頭（空白を除く）から始まるJSONオブジェクト/配列を
// 括弧の対応を取って切り出す。文字列リテラル内の括弧は無視する。
func balancedJSON(text string, start int) (string, bool) {
	i := start
	for i < len(text) && (text[i] == ' ' || text[i] == '\n' || text[i] == '\t' || text[i] == '\r') {
		i++
	}
	if i >= len(text) || (text[i] != '{' && text[i] != '[') {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for j := i; j < len(text); j++ {
		ch := text[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[i : j+1], true
			}
		}
	}
	return "", false
}

func decodeJSON(text string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// findItemArray は任意のJSON値から「idを持つオブジェクトの配列」を深さ優先で探す。
// マップはitemArrayKeysを優先し、残りはキー順に探索する（結果を決定的にするため）。
func findItemArray(v any, depth int) []map[string]any {
	if depth > maxSearchDepth {
		return nil
	}

	switch val := v.(type) {
	case []any:
		if items := asItemObjects(val); len(items) > 0 {
			return items
		}
		for _, elem := range val {
			if items := findItemArray(elem, depth+1); len(items) > 0 {
				return items
			}
		}
	case map[string]any:
		for _, key := range itemArrayKeys {
			if child, ok := val[key]; ok {
				if items := findItemArray(child, depth+1); len(items) > 0 {
					return items
				}
			}
		}
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if items := findItemArray(val[key], depth+1); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

// asItemObjects は配列の全要素がidまたはitem_idを持つオブジェクトの場合にそれらを返す。
func asItemObjects(arr []any) []map[string]any {
	if len(arr) == 0 {
		return nil
	}
	items := make([]map[string]any, 0, len(arr))
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil
		}
		if !hasItemID(obj) {
			return nil
		}
		items = append(items, obj)
	}
	return items
}

func hasItemID(obj map[string]any) bool {
	if _, ok := obj["id"]; ok {
		return true
	}
	_, ok := obj["item_id"]
	return ok
}

func toAPIItems(objs []map[string]any) []model.RawItem {
	if len(objs) == 0 {
		return nil
	}
	items := make([]model.RawItem, len(objs))
	for i, obj := range objs {
		items[i] = model.RawItem{Format: model.RawFormatAPI, Fields: obj}
	}
	return items
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.Join(strings.Fields(s.Find(selector).First().Text()), " "); text != "" {
			return text
		}
	}
	return ""
}

func itemIDFromHref(href string) string {
	m := itemHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

func absoluteURL(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

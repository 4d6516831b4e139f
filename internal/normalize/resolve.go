package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DefaultCurrency は通貨が不明な場合に使用するISO通貨コード。
const DefaultCurrency = "EUR"

// 保存先カラムの上限。listing_itemsの定義と一致させる。
const (
	MaxPrice       = 9999999999.99 // NUMERIC(12, 2)
	MaxCurrencyLen = 8
	MaxBrandLen    = 255
	MaxSizeLen     = 100
)

// priceNumberPattern は価格文字列中の最初の数値部分にマッチする。
// 小数点カンマはマッチ前にピリオドへ置換する。
var priceNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ResolvePrice はpriceフィールドの値から金額と通貨を取り出す。
//   - {amount, currency_code} のオブジェクト: そのまま使用
//   - 文字列: 最初の数値部分を抽出し、通貨はEUR
//   - 数値: そのまま使用し、通貨はEUR
//   - それ以外: 0、EUR
//
// 負の金額、有限でない金額、MaxPriceを超える金額は0にする。
func ResolvePrice(v any) (float64, string) {
	amount, currency := 0.0, DefaultCurrency

	switch p := v.(type) {
	case map[string]any:
		if n, ok := numberValue(p["amount"]); ok {
			amount = n
		}
		if c := stringValue(p["currency_code"]); c != "" {
			currency = c
		} else if c := stringValue(p["currency"]); c != "" {
			currency = c
		}
	case string:
		amount = parsePriceString(p)
	default:
		if n, ok := numberValue(p); ok {
			amount = n
		}
	}

	if amount < 0 || amount > MaxPrice || math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	return amount, currency
}

// parsePriceString は "15,00 €" のような表示用の価格文字列から金額を取り出す。
// 数値が含まれない場合は0を返す。
func parsePriceString(s string) float64 {
	match := priceNumberPattern.FindString(strings.ReplaceAll(s, ",", "."))
	if match == "" {
		return 0
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// numberValue は数値として解釈できる値をfloat64に変換する。
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(n)); err == nil {
			f, _ := d.Float64()
			return f, true
		}
		if priceNumberPattern.MatchString(strings.ReplaceAll(n, ",", ".")) {
			return parsePriceString(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ResolveID は出品IDを解決する。id → item_id の順に参照し、常に文字列で返す。
func ResolveID(fields map[string]any) string {
	if id := idString(fields["id"]); id != "" {
		return id
	}
	return idString(fields["item_id"])
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

// ResolveURL は出品URLを解決する。urlが無い場合はitemBaseURLとIDから合成する。
func ResolveURL(fields map[string]any, itemID, itemBaseURL string) string {
	if u := stringValue(fields["url"]); u != "" {
		return u
	}
	if itemID == "" {
		return ""
	}
	return itemBaseURL + itemID
}

// ResolvePhotoURL は写真URLを解決する。
// photoが {url} のオブジェクトならそのurl、文字列ならそれ自体をURLとして扱う。
func ResolvePhotoURL(fields map[string]any) string {
	switch p := fields["photo"].(type) {
	case map[string]any:
		return stringValue(p["url"])
	case string:
		return p
	default:
		return ""
	}
}

// resolveTitled は "<key>_title" を優先し、無ければ "<key>" を参照する。
func resolveTitled(fields map[string]any, key string) string {
	if v := stringValue(fields[key+"_title"]); v != "" {
		return v
	}
	return stringValue(fields[key])
}

// truncateRunes はsを先頭からmaxRunes文字までに切り詰める。
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxRunes]))
}

func stringValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

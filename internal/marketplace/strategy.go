package marketplace

import (
	"context"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// OutcomeKind は1回の取得試行の結果種別。
type OutcomeKind int

const (
	// OutcomeItems は1件以上の出品を取得できた。
	OutcomeItems OutcomeKind = iota
	// OutcomeNoItems はリクエストは成功したが出品が0件だった。
	OutcomeNoItems
	// OutcomeError は通信エラー、拒否ステータス、デコード失敗のいずれか。
	OutcomeError
)

// String はメトリクス・ログ用のラベルを返す。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeItems:
		return "items"
	case OutcomeNoItems:
		return "no_items"
	default:
		return "error"
	}
}

// Outcome は取得戦略の構造化された結果。
type Outcome struct {
	Kind       OutcomeKind
	Items      []model.RawItem
	StatusCode int    // HTTPレスポンスを受け取った場合のステータス
	Detail     string // 失敗・0件の理由（blocked_reasonに使用）
	Err        error
}

// Strategy は「取得を試みる」能力を持つ取得戦略。
// 失敗は返り値のOutcomeで表現し、同じ戦略内での再試行は行わない。
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, params SearchParams) Outcome
}

func itemsOutcome(items []model.RawItem, statusCode int, emptyDetail string) Outcome {
	if len(items) == 0 {
		return Outcome{Kind: OutcomeNoItems, StatusCode: statusCode, Detail: emptyDetail}
	}
	return Outcome{Kind: OutcomeItems, Items: items, StatusCode: statusCode}
}

func errorOutcome(err error, statusCode int, detail string) Outcome {
	return Outcome{Kind: OutcomeError, Err: err, StatusCode: statusCode, Detail: detail}
}

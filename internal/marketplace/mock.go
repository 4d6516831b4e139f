package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/vintedwatch/internal/model"
)

var (
	mockBrands = []string{"Nike", "Adidas", "Zara", "H&M", "Levi's", "Uniqlo", "Mango", "Puma", "Carhartt", "The North Face"}
	mockSizes  = []string{"XS", "S", "M", "L", "XL", "38", "40", "42"}
	mockStates = []string{"Neuf avec étiquette", "Très bon état", "Bon état", "Satisfaisant"}
)

// MockStrategy は実データが取得できない場合の決定的なモックデータを生成する。
// 同じ検索語・同じUTCの時間帯であれば同じ出品ID・価格を返す。
type MockStrategy struct {
	itemBaseURL string
	now         func() time.Time
}

// NewMockStrategy はMockStrategyを生成する。
func NewMockStrategy(itemBaseURL string) *MockStrategy {
	return &MockStrategy{itemBaseURL: itemBaseURL, now: time.Now}
}

// Name は戦略名を返す。
func (s *MockStrategy) Name() string { return "mock" }

// Attempt はモックデータを生成する。ネットワークには触れない。
func (s *MockStrategy) Attempt(_ context.Context, params SearchParams) Outcome {
	return itemsOutcome(s.Generate(params), 0, "")
}

// Generate はPerPage件のモック出品を生成する。
// IDは sha256(検索語|インデックス|UTC時間) から導出し、
// 価格・ブランド・サイズはそのハッシュをシードとする乱数で決める。
func (s *MockStrategy) Generate(params SearchParams) []model.RawItem {
	count := params.EffectivePerPage()
	hour := s.now().UTC().Format("2006-01-02T15")

	label := strings.TrimSpace(params.SearchText)
	if label == "" {
		label = "article"
	}

	items := make([]model.RawItem, 0, count)
	for i := range count {
		sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", params.SearchText, i, hour))
		id := "mock-" + hex.EncodeToString(sum[:8])
		rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[8:16]), binary.BigEndian.Uint64(sum[16:24])))

		// 3.00〜99.99
		price := decimal.New(int64(300+rng.IntN(9700)), -2)
		brand := mockBrands[rng.IntN(len(mockBrands))]
		size := mockSizes[rng.IntN(len(mockSizes))]

		items = append(items, model.RawItem{
			Format: model.RawFormatMock,
			Fields: map[string]any{
				"id":          id,
				"title":       fmt.Sprintf("%s %s #%d", brand, label, i+1),
				"price":       price.InexactFloat64(),
				"currency":    "EUR",
				"brand_title": brand,
				"size_title":  size,
				"status":      mockStates[rng.IntN(len(mockStates))],
				"url":         s.itemBaseURL + id,
				"is_mock":     true,
			},
		})
	}
	return items
}

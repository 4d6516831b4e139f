package model

import "time"

// DayLayout はDailyStat.Dayの日付フォーマット（UTC暦日）。
const DayLayout = "2006-01-02"

// DailyStat は保存済み検索の1日分の価格統計を表す。
// (QueryID, Day) ごとに1行で、再計算時は上書きされる。
type DailyStat struct {
	ID          string
	QueryID     string
	Day         string
	AvgPrice    *float64 // 対象0件の場合はnil
	MedianPrice *float64 // 対象0件の場合はnil
	ItemCount   int      // price > 0 の件数
	CreatedAt   time.Time
}

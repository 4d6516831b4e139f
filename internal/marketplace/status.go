package marketplace

import "fmt"

// StatusClass はマーケットプレイスのHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は取得成功（200）。
	StatusOK StatusClass = iota
	// StatusBlocked は認証・アンチボットによる拒否（401/403）。
	// 一時的なエラーではなく、セッション確立を伴う戦略への移行を示す。
	StatusBlocked
	// StatusFailed はその他の失敗（429/5xx/想定外のステータス）。
	StatusFailed
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
// 200以外の2xxも失敗として扱う。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode == 200:
		return StatusOK
	case statusCode == 401 || statusCode == 403:
		return StatusBlocked
	default:
		return StatusFailed
	}
}

// describeStatus はblocked_reasonに載せるステータスの説明を返す。
func describeStatus(statusCode int) string {
	if ClassifyHTTPStatus(statusCode) == StatusBlocked {
		return fmt.Sprintf("HTTP %d (blocked by marketplace)", statusCode)
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

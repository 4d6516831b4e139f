package model

// FetchSource はフェッチ結果の取得元を表す。
type FetchSource string

const (
	// FetchSourceLive はマーケットプレイスから実データを取得したことを示す。
	FetchSourceLive FetchSource = "live"
	// FetchSourceMock はモックフォールバックで生成したことを示す。
	FetchSourceMock FetchSource = "mock"
)

// FetchResult はフェッチ戦略チェーンの結果と取得経緯（provenance）を表す。
type FetchResult struct {
	Items         []RawItem
	Source        FetchSource
	IsMock        bool
	BlockedReason *string // 実データが取得できなかった理由。liveの場合はnil
}

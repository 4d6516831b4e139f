package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/vintedwatch/internal/model"
)

// AttemptRecorder は戦略試行の結果を記録するインターフェース。
// metrics.Collectorが実装する。
type AttemptRecorder interface {
	RecordStrategyAttempt(strategy string, outcome string, duration time.Duration)
	RecordFetchSource(source string)
}

// Chain はライブ戦略を順に試行し、最後にモックへフォールバックする。
type Chain struct {
	strategies []Strategy
	fallback   *MockStrategy
	recorder   AttemptRecorder
	logger     *slog.Logger
}

// NewChain はChainを生成する。recorderはnilでもよい。
func NewChain(strategies []Strategy, fallback *MockStrategy, recorder AttemptRecorder, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		strategies: strategies,
		fallback:   fallback,
		recorder:   recorder,
		logger:     logger,
	}
}

// NewDefaultChain は API → セッション → スクレイピング → モック の標準チェーンを生成する。
func NewDefaultChain(client *Client, recorder AttemptRecorder, logger *slog.Logger) *Chain {
	return NewChain(
		[]Strategy{
			NewAPIStrategy(client),
			NewSessionStrategy(client),
			NewScrapeStrategy(client),
		},
		NewMockStrategy(client.ItemBaseURL()),
		recorder,
		logger,
	)
}

// Fetch は出品を取得する。エラーは返さず、失敗は取得経緯として結果に含める。
// 最初に1件以上を返したライブ戦略の結果を採用し、全て失敗した場合は
// 各戦略の失敗理由をまとめたblocked_reason付きでモックデータを返す。
func (c *Chain) Fetch(ctx context.Context, params SearchParams) model.FetchResult {
	failures := make([]string, 0, len(c.strategies))

	for _, strategy := range c.strategies {
		start := time.Now()
		outcome := strategy.Attempt(ctx, params)
		duration := time.Since(start)
		c.recordAttempt(strategy.Name(), outcome.Kind, duration)

		if outcome.Kind == OutcomeItems {
			c.logger.Info("ライブデータを取得しました",
				slog.String("strategy", strategy.Name()),
				slog.Int("items", len(outcome.Items)),
				slog.Float64("duration_ms", float64(duration.Milliseconds())),
			)
			c.recordSource(model.FetchSourceLive)
			return model.FetchResult{
				Items:  truncate(outcome.Items, params.EffectivePerPage()),
				Source: model.FetchSourceLive,
			}
		}

		c.logger.Warn("取得戦略が出品を返しませんでした",
			slog.String("strategy", strategy.Name()),
			slog.String("outcome", outcome.Kind.String()),
			slog.Int("http_status", outcome.StatusCode),
			slog.String("detail", outcome.Detail),
		)
		failures = append(failures, fmt.Sprintf("%s: %s", strategy.Name(), describeOutcome(outcome)))
	}

	reason := "live data unavailable"
	if len(failures) > 0 {
		reason = fmt.Sprintf("live data unavailable (%s)", strings.Join(failures, "; "))
	}

	start := time.Now()
	mock := c.fallback.Attempt(ctx, params)
	c.recordAttempt(c.fallback.Name(), mock.Kind, time.Since(start))
	c.recordSource(model.FetchSourceMock)

	c.logger.Warn("モックデータにフォールバックしました",
		slog.String("blocked_reason", reason),
		slog.Int("items", len(mock.Items)),
	)
	return model.FetchResult{
		Items:         mock.Items,
		Source:        model.FetchSourceMock,
		IsMock:        true,
		BlockedReason: &reason,
	}
}

func (c *Chain) recordAttempt(strategy string, kind OutcomeKind, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordStrategyAttempt(strategy, kind.String(), d)
	}
}

func (c *Chain) recordSource(source model.FetchSource) {
	if c.recorder != nil {
		c.recorder.RecordFetchSource(string(source))
	}
}

func describeOutcome(o Outcome) string {
	switch {
	case o.Detail != "":
		return o.Detail
	case o.Err != nil:
		return o.Err.Error()
	case o.Kind == OutcomeNoItems:
		return "no items"
	default:
		return "failed"
	}
}

// Package marketplace はマーケットプレイスのカタログから出品を取得する
// フェッチ戦略チェーンを提供する。
// API → セッション付きAPI → HTMLスクレイピング の順に試行し、
// いずれも出品を返さなかった場合は決定的なモックデータにフォールバックする。
package marketplace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	acceptJSON = "application/json, text/plain, */*"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// HTTPClientProvider はタイムアウト付きHTTPクライアントを生成する。
// 本番ではsecurity.SSRFGuard、テストではsecurity.PlainGuardを渡す。
type HTTPClientProvider interface {
	NewSafeClient(timeout time.Duration) *http.Client
}

// ClientConfig はマーケットプレイス通信の設定。
type ClientConfig struct {
	BaseURL     string        // 例: "https://www.vinted.fr"
	Timeout     time.Duration // 1リクエストあたりのタイムアウト
	Delay       time.Duration // 各ライブリクエスト前の固定ウェイト
	MaxBodySize int64         // レスポンスボディの上限（バイト）
	UserAgent   string
}

// Client は戦略間で共有するマーケットプレイスのHTTPクライアント設定。
// 戦略ごとに新しいrestyクライアントを組み立てるため、
// セッション戦略のCookieが他の戦略へ漏れることはない。
type Client struct {
	cfg      ClientConfig
	provider HTTPClientProvider
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient はClientを生成する。
func NewClient(cfg ClientConfig, provider HTTPClientProvider, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// BaseURL は末尾スラッシュを除いたベースURLを返す。
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// ItemBaseURL は出品ページURLの接頭辞を返す。
func (c *Client) ItemBaseURL() string {
	return c.cfg.BaseURL + "/items/"
}

// newRestyClient は1回の戦略試行用のrestyクライアントを生成する。
// jarがnilの場合はCookieを保持しない。
func (c *Client) newRestyClient(jar http.CookieJar) *resty.Client {
	rc := resty.NewWithClient(c.provider.NewSafeClient(c.cfg.Timeout)).
		SetBaseURL(c.cfg.BaseURL).
		SetTimeout(c.cfg.Timeout).
		SetHeaders(map[string]string{
			"User-Agent":      c.cfg.UserAgent,
			"Accept-Language": defaultAcceptLanguage,
		}).
		SetCookieJar(jar)

	// 礼儀としてのウェイト。モックへのフォールバックには適用されない。
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.sleep(req.Context(), c.cfg.Delay)
	})
	return rc
}

// get はGETリクエストを送信し、ステータスコードとボディを返す。
// ボディはMaxBodySizeで打ち切り、超過した場合はエラーを返す。
func (c *Client) get(ctx context.Context, rc *resty.Client, path string, query url.Values, accept, locale string) (int, []byte, error) {
	req := rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", accept)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if locale != "" {
		req.SetHeader("Accept-Language", fmt.Sprintf("%s,en;q=0.8", locale))
	}

	resp, err := req.Get(path)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	raw := resp.RawBody()
	if raw == nil {
		return resp.StatusCode(), nil, nil
	}
	defer raw.Close()

	body, err := readLimited(raw, c.cfg.MaxBodySize)
	if err != nil {
		return resp.StatusCode(), nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp.StatusCode(), body, nil
}

// readLimited はmaxBytesを超えるボディをエラーとする。maxBytesが0以下なら無制限。
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}
	if n > maxBytes {
		return nil, fmt.Errorf("レスポンスサイズが上限(%dバイト)を超えています", maxBytes)
	}
	return buf.Bytes(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

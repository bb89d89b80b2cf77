// Package api はストアREST APIのクライアントを提供する。
// 全ての呼び出しはタイムアウト・レート制限・リクエストIDを伴い、
// 失敗は model.APIError に分類して返す。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
)

const (
	// defaultTimeout はOptions.Timeout未指定時のリクエストタイムアウト。
	defaultTimeout = 15 * time.Second
	// defaultOrderCreatePath は注文作成エンドポイントのデフォルトパス。
	defaultOrderCreatePath = "/api/orders"
	// maxResponseBytes はレスポンスボディの最大読み取りサイズ。
	maxResponseBytes = 4 << 20
	// userAgent はリクエストに付与するUser-Agent。
	userAgent = "Storefront/1.0"
)

// Options はClientの動作設定。
type Options struct {
	Timeout         time.Duration // 1リクエストあたりのタイムアウト
	RateLimit       float64       // 1秒あたりの最大リクエスト数（0以下で無制限）
	RateBurst       int
	OrderCreatePath string // "/api/orders" または "/api/orders/create"
	Metrics         metrics.MetricsCollector
}

// Client はストアAPIのクライアント。
// トークンは呼び出しごとに引数で渡し、Client自体は認証状態を持たない。
type Client struct {
	httpClient      *http.Client
	baseURL         *url.URL
	limiter         *rate.Limiter
	timeout         time.Duration
	orderCreatePath string
	metrics         metrics.MetricsCollector
	logger          *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはAPIのオリジン（例: "http://localhost:8000"）。
func NewClient(httpClient *http.Client, baseURL string, opts Options, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported API base URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("API base URL has no host: %q", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OrderCreatePath == "" {
		opts.OrderCreatePath = defaultOrderCreatePath
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		httpClient:      httpClient,
		baseURL:         u,
		limiter:         limiter,
		timeout:         opts.Timeout,
		orderCreatePath: opts.OrderCreatePath,
		metrics:         metrics.OrNop(opts.Metrics),
		logger:          logger,
	}, nil
}

// request は1回のAPI呼び出しの内容を表す。
type request struct {
	op     string // メトリクス・ログ用の操作名
	method string
	path   string
	query  url.Values
	token  string
	json   any        // JSONボディ（nilの場合は送信しない）
	form   url.Values // フォームボディ（jsonより優先する）

	body        io.Reader // 任意形式のボディ（formより優先する）
	contentType string

	allowEmpty bool // 2xxの空ボディを成功として扱う
}

// do はリクエストを実行し、2xxの場合にボディをoutへデコードする。
// outがnilの場合、ボディは読み捨てる。
func (c *Client) do(ctx context.Context, r request, out any) error {
	start := time.Now()
	err := c.send(ctx, r, out)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		c.logger.Warn("store API call failed",
			slog.String("operation", r.op),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("outcome", outcome),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("store API call succeeded",
			slog.String("operation", r.op),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Duration("duration", elapsed),
		)
	}
	c.metrics.RecordAPIRequest(r.op, outcome, elapsed)

	return err
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportError(ctx, err)
	}

	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(ctx, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		apiErr := model.NewUnauthenticatedError()
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.NewServerError(resp.StatusCode, errorDetail(body))
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if r.allowEmpty {
			return nil
		}
		return model.NewMalformedResponseError(errors.New("empty response body"))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.NewMalformedResponseError(fmt.Errorf("failed to decode %s response: %w", r.op, err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	u := c.baseURL.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.body != nil:
		body = r.body
		contentType = r.contentType
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.json != nil:
		data, err := json.Marshal(r.json)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", r.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

// classifyTransportError は送信・受信時のエラーをTimeout・Cancelled・NetworkErrorに分類する。
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewTimeoutError(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return model.NewCancelledError(err)
	}
	return model.NewNetworkError(err)
}

// errorDetail はエラーレスポンスから利用者向けの詳細を取り出す。
// {"detail": "..."} 形式を優先し、それ以外はボディ先頭を返す。
func errorDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 {
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				return s
			}
			return truncate(string(payload.Detail), 200)
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// outcomeOf はエラーをメトリクスのoutcomeラベルに変換する。
func outcomeOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}

// pathSegment はIDをURLパスの1セグメントとしてエスケープする。
// "." と ".." は結合時に正規化され別のルートを指すため受け付けない。
func pathSegment(field, id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", model.NewValidationError(field, "パスに使用できない値です")
	}
	return url.PathEscape(id), nil
}

// isStatus はerrがサーバーの指定ステータス応答かどうかを判定する。
func isStatus(err error, status int) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

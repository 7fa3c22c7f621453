package tesla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// MaxAttempts 截断重试的总次数
const MaxAttempts = 3

const teslaUserAgent = "TeslaApp/4.28.3-2167"

// TokenSource 提供当前的 access token
type TokenSource interface {
	AccessToken() string
}

// ResponseKind 响应的解码方式
type ResponseKind int

const (
	KindRaw ResponseKind = iota
	KindJSON
	KindPDF
)

// Request 一次远端调用
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Body        []byte
	ContentType string
	SkipAuth    bool // 令牌端点不带 Bearer
}

// Response 按 Content-Type 解码后的响应
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	JSON        map[string]json.RawMessage // 仅 JSON 响应
}

// Kind 响应类型
func (r *Response) Kind() ResponseKind {
	switch r.ContentType {
	case "application/json":
		return KindJSON
	case "application/pdf":
		return KindPDF
	default:
		return KindRaw
	}
}

// Field 解码 JSON 响应的顶层字段
func (r *Response) Field(name string, out interface{}) error {
	if r.JSON == nil {
		return fmt.Errorf("response is %q, not JSON", r.ContentType)
	}
	raw, ok := r.JSON[name]
	if !ok {
		return fmt.Errorf("response has no %q field", name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %q: %w", name, err)
	}
	return nil
}

// Requester 为所有远端调用附加认证、截断重试和解码
type Requester struct {
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRequester 创建请求执行器，httpClient 为 nil 时使用默认传输
func NewRequester(httpClient *http.Client, tokens TokenSource, logger *zap.Logger) *Requester {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Requester{
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleep:      waitWithContext,
	}
}

// retryDelay 第 attempt 次（从 0 开始）失败后的等待：1s, 4s, 7s
func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt*3+1) * time.Second
}

// Execute 执行请求；截断最多尝试 MaxAttempts 次，其它错误直接返回
func (r *Requester) Execute(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		resp, err := r.do(ctx, req)
		if err == nil {
			return resp, nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return nil, err
		}
		lastErr = err

		delay := retryDelay(attempt)
		r.logger.Warn("Truncated response, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", delay),
			zap.Error(err))

		if waitErr := r.sleep(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", MaxAttempts, lastErr)
}

// do 执行单次请求
func (r *Requester) do(ctx context.Context, req Request) (*Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("x-tesla-user-agent", teslaUserAgent)
	if !req.SkipAuth {
		httpReq.Header.Set("Authorization", "Bearer "+r.tokens.AccessToken())
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if isTruncated(err) {
			return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTruncated(err) {
			return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       string(payload),
		}
	}

	return decodeResponse(resp, payload)
}

// decodeResponse 按声明的 Content-Type 解码
func decodeResponse(resp *http.Response, payload []byte) (*Response, error) {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: mediaType,
		Header:      resp.Header,
		Body:        payload,
	}

	if out.Kind() == KindJSON {
		if err := json.Unmarshal(payload, &out.JSON); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

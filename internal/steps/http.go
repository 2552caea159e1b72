package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

const (
	// StepTypeHTTP — тип HTTP шага.
	StepTypeHTTP = "http_request"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 << 20
	maxErrorBody       = 512
)

// Ключи параметров HTTP шага.
const (
	configMethod          = "method"
	configURL             = "url"
	configHeaders         = "headers"
	configBody            = "body"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
	configTimeoutSec      = "timeout_sec"
	configFailOnStatus    = "fail_on_status"
)

const headerIdempotencyKey = "Idempotency-Key"

// HTTPStep вызывает внешний HTTP API.
//
// Параметры узла:
//
//	{
//	    "method": "POST",                      // GET по умолчанию
//	    "url": "https://api.example.com/data", // обязателен, http или https
//	    "headers": {"X-Token": "..."},
//	    "body": {"po": "123"},                 // строка уходит как есть, остальное — JSON
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "fail_on_status": true,
//	    "timeout_sec": 30
//	}
//
// Ответ >= 400 при fail_on_status возвращается как *HTTPError и
// повторяется по политике шага. Ключ дедупликации вызова уходит в
// заголовке Idempotency-Key, если узел не задал свой.
//
// Результат: status, status_code, headers (значения через ", ") и body
// (разобранный JSON для application/json и +json, иначе строка).
type HTTPStep struct {
	// Общие для всех вызовов; выбираются по validate_ssl.
	verified   *http.Transport
	unverified *http.Transport
}

// NewHTTPStep создаёт новый HTTPStep.
func NewHTTPStep() *HTTPStep {
	base := http.DefaultTransport.(*http.Transport)

	unverified := base.Clone()
	unverified.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &HTTPStep{
		verified:   base.Clone(),
		unverified: unverified,
	}
}

// Type возвращает тип шага.
func (s *HTTPStep) Type() string {
	return StepTypeHTTP
}

// Description возвращает описание шага.
func (s *HTTPStep) Description() string {
	return "Call an external HTTP API"
}

// Execute выполняет HTTP запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	call, err := newHTTPCall(req.Params)
	if err != nil {
		return nil, err
	}
	if req.Timeout > 0 {
		call.timeout = req.Timeout
	}
	if req.DedupKey != "" && call.header.Get(headerIdempotencyKey) == "" {
		call.header.Set(headerIdempotencyKey, req.DedupKey)
	}

	httpReq, err := call.request(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client(call).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if call.failOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(raw), maxErrorBody),
		}
	}

	return NewResponse(domain.StepResult{
		domain.FieldStatus: domain.ResultStatusCompleted,
		"status_code":      resp.StatusCode,
		"headers":          flattenHeader(resp.Header),
		"body":             decodeBody(resp.Header.Get("Content-Type"), raw),
	}), nil
}

// client собирает клиент под настройки вызова поверх общего транспорта.
func (s *HTTPStep) client(call *httpCall) *http.Client {
	c := &http.Client{
		Timeout:   call.timeout,
		Transport: s.verified,
	}
	if !call.validateSSL {
		c.Transport = s.unverified
	}
	if !call.followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// httpCall — один HTTP вызов, собранный из параметров узла.
type httpCall struct {
	method          string
	target          string
	header          http.Header
	body            []byte
	timeout         time.Duration
	followRedirects bool
	validateSSL     bool
	failOnStatus    bool
}

func newHTTPCall(params domain.Params) (*httpCall, error) {
	target, err := parseTarget(GetConfigString(params, configURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeHTTP, err)
	}

	call := &httpCall{
		method:          strings.ToUpper(strings.TrimSpace(GetConfigString(params, configMethod))),
		target:          target,
		header:          make(http.Header),
		timeout:         defaultHTTPTimeout,
		followRedirects: GetConfigBool(params, configFollowRedirects, true),
		validateSSL:     GetConfigBool(params, configValidateSSL, true),
		failOnStatus:    GetConfigBool(params, configFailOnStatus, true),
	}
	if call.method == "" {
		call.method = http.MethodGet
	}
	if sec := GetConfigInt(params, configTimeoutSec); sec > 0 {
		call.timeout = time.Duration(sec) * time.Second
	}

	// Set приводит имена к каноническому виду: "content-type" и
	// "Content-Type" — один заголовок.
	for name, value := range GetConfigMapString(params, configHeaders) {
		call.header.Set(name, value)
	}

	if raw, ok := params[configBody]; ok && raw != nil {
		call.body, err = encodeBody(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: body: %v", ErrInvalidConfig, StepTypeHTTP, err)
		}
		if call.header.Get("Content-Type") == "" {
			call.header.Set("Content-Type", "application/json")
		}
	}

	return call, nil
}

func (c *httpCall) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.target, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.header.Clone()
	return req, nil
}

func parseTarget(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}
	return u.String(), nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	return json.Marshal(v)
}

func decodeBody(contentType string, raw []byte) any {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !isJSONMedia(mediaType) {
		return string(raw)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func isJSONMedia(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// HTTPError — ответ со статусом >= 400.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package steps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	// Пустой реестр
	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	// Регистрация
	r.Register(NewWaitStep())
	if r.Count() != 1 {
		t.Errorf("expected 1 step, got %d", r.Count())
	}

	// Получение
	step, err := r.Get(domain.StepTypeWait)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if step.Type() != domain.StepTypeWait {
		t.Errorf("expected %s, got %s", domain.StepTypeWait, step.Type())
	}

	// Несуществующий тип
	_, err = r.Get("unknown")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	// Unregister
	r.Unregister(domain.StepTypeWait)
	if r.Has(domain.StepTypeWait) {
		t.Error("should not have wait step after unregister")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(discardLogger())

	expectedTypes := []string{
		StepTypeHTTP,
		StepTypeLogActivity,
		StepTypeLogWorkflowAction,
		StepTypeTransform,
		domain.StepTypeWait,
	}
	for _, typ := range expectedTypes {
		if !r.Has(typ) {
			t.Errorf("default registry should have %s", typ)
		}
	}

	types := r.Types()
	if len(types) != len(expectedTypes) {
		t.Errorf("expected %d types, got %d", len(expectedTypes), len(types))
	}
}

func TestRegistry_PolicyAndCatalog(t *testing.T) {
	r := NewRegistry()
	r.RegisterWithPolicy(
		NewFuncStep("send_email", func(ctx context.Context, req *Request) (domain.StepResult, error) {
			return domain.StepResult{"status": "sent"}, nil
		}).WithDescription("Send an email"),
		Policy{Timeout: 30 * time.Second, Retry: domain.RetryPolicy{MaxAttempts: 5}},
	)
	r.Register(NewWaitStep())

	p := r.Policy("send_email")
	if p.Timeout != 30*time.Second || p.Retry.MaxAttempts != 5 {
		t.Errorf("unexpected policy: %+v", p)
	}
	if r.Policy("missing") != (Policy{}) {
		t.Error("expected zero policy for unknown type")
	}

	catalog := r.Catalog()
	if len(catalog) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(catalog))
	}
	// Каталог отсортирован по типу
	if catalog[0].Type != "send_email" || catalog[0].Description != "Send an email" {
		t.Errorf("unexpected first action: %+v", catalog[0])
	}
	if catalog[1].Type != domain.StepTypeWait {
		t.Errorf("expected wait step second, got %s", catalog[1].Type)
	}
}

func TestPolicy_Merge(t *testing.T) {
	base := Policy{
		Timeout: 120 * time.Second,
		Retry:   domain.DefaultRetryPolicy(),
	}

	merged := base.Merge(Policy{Retry: domain.RetryPolicy{MaxAttempts: 7, Backoff: "fixed"}})

	if merged.Timeout != 120*time.Second {
		t.Errorf("timeout should stay, got %v", merged.Timeout)
	}
	if merged.Retry.MaxAttempts != 7 || merged.Retry.Backoff != "fixed" {
		t.Errorf("override not applied: %+v", merged.Retry)
	}
	if merged.Retry.InitialDelayMs != 1000 || merged.Retry.MaxDelayMs != 10000 {
		t.Errorf("delays should stay default: %+v", merged.Retry)
	}
}

// Wait Step Tests

func TestWaitInterval(t *testing.T) {
	tests := []struct {
		name        string
		params      domain.Params
		want        time.Duration
		wantWarning bool
	}{
		{name: "minutes", params: domain.Params{"duration": 2, "unit": "minutes"}, want: 120 * time.Second},
		{name: "seconds", params: domain.Params{"duration": 45, "unit": "seconds"}, want: 45 * time.Second},
		{name: "seconds default unit", params: domain.Params{"duration": 30}, want: 30 * time.Second},
		{name: "hours", params: domain.Params{"duration": 1, "unit": "hours"}, want: time.Hour},
		{name: "days", params: domain.Params{"duration": 2, "unit": "days"}, want: 48 * time.Hour},
		{name: "float from JSON", params: domain.Params{"duration": 1.5, "unit": "minutes"}, want: 90 * time.Second},
		{name: "numeric string", params: domain.Params{"duration": "3", "unit": "Seconds"}, want: 3 * time.Second},
		{name: "negative", params: domain.Params{"duration": -5, "unit": "seconds"}, want: 0, wantWarning: true},
		{name: "non-numeric", params: domain.Params{"duration": "soon", "unit": "seconds"}, want: 0, wantWarning: true},
		{name: "missing", params: domain.Params{"unit": "seconds"}, want: 0, wantWarning: true},
		{name: "unknown unit", params: domain.Params{"duration": 1, "unit": "weeks"}, want: time.Second, wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warning := WaitInterval(tt.params)
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if (warning != "") != tt.wantWarning {
				t.Errorf("warning = %q, wantWarning %v", warning, tt.wantWarning)
			}
		})
	}
}

func TestWaitStep_Execute(t *testing.T) {
	step := NewWaitStep()

	resp, err := step.Execute(context.Background(), NewRequest("wait", domain.Params{"duration": 0, "unit": "seconds"}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["status"] != "completed" {
		t.Errorf("expected status completed, got %v", resp.Outputs["status"])
	}
	if resp.Outputs["waitedSeconds"] != int64(0) {
		t.Errorf("expected waitedSeconds 0, got %v", resp.Outputs["waitedSeconds"])
	}
}

func TestWaitStep_Cancellation(t *testing.T) {
	step := NewWaitStep()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := step.Execute(ctx, NewRequest("wait", domain.Params{"duration": 1, "unit": "minutes"}, 0))

	if !errors.Is(err, ErrStepCancelled) {
		t.Errorf("expected ErrStepCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

// Log Step Tests

func TestLogStep_Execute(t *testing.T) {
	step := NewLogStep(StepTypeLogWorkflowAction, discardLogger())

	resp, err := step.Execute(context.Background(), NewRequest("log", domain.Params{
		"log_level": "warning",
		"message":   "reply is partial",
		"metadata":  `{"po": "123"}`,
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := resp.Outputs
	if out["status"] != "logged" {
		t.Errorf("expected status logged, got %v", out["status"])
	}
	if out["log_level"] != "WARNING" {
		t.Errorf("expected WARNING, got %v", out["log_level"])
	}
	meta, ok := out["metadata"].(map[string]any)
	if !ok || meta["po"] != "123" {
		t.Errorf("expected parsed metadata, got %v", out["metadata"])
	}
	if out["timestamp"] == "" {
		t.Error("timestamp should be set")
	}
}

func TestLogStep_Defaults(t *testing.T) {
	step := NewLogStep(StepTypeLogActivity, nil)

	resp, err := step.Execute(context.Background(), NewRequest("log", nil, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["log_level"] != "INFO" {
		t.Errorf("expected INFO, got %v", resp.Outputs["log_level"])
	}
	if resp.Outputs["message"] != "No message provided" {
		t.Errorf("unexpected message: %v", resp.Outputs["message"])
	}
}

// HTTP Step Tests

func TestHTTPStep_GET(t *testing.T) {
	var receivedKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		receivedKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data":   []int{1, 2, 3},
		})
	}))
	defer server.Close()

	step := NewHTTPStep()
	req := NewRequest("fetch", domain.Params{"url": server.URL}, 0)
	req.DedupKey = "run-1/fetch/0"

	resp, err := step.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["status_code"] != 200 {
		t.Errorf("expected status_code 200, got %v", resp.Outputs["status_code"])
	}
	if resp.Outputs["status"] != "completed" {
		t.Errorf("expected status completed, got %v", resp.Outputs["status"])
	}
	body, ok := resp.Outputs["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected body to be map, got %T", resp.Outputs["body"])
	}
	if body["status"] != "ok" {
		t.Errorf("expected body status 'ok', got %v", body["status"])
	}
	if receivedKey != "run-1/fetch/0" {
		t.Errorf("expected Idempotency-Key header, got %q", receivedKey)
	}
}

func TestHTTPStep_POST_JSON(t *testing.T) {
	var receivedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json")
		}
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	step := NewHTTPStep()
	req := NewRequest("post", domain.Params{
		"method": "post",
		"url":    server.URL,
		"body":   map[string]any{"name": "test"},
	}, 0)

	resp, err := step.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["status_code"] != 201 {
		t.Errorf("expected status_code 201, got %v", resp.Outputs["status_code"])
	}
	if receivedBody["name"] != "test" {
		t.Errorf("expected name 'test', got %v", receivedBody["name"])
	}
}

func TestHTTPStep_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 2000), http.StatusServiceUnavailable)
	}))
	defer server.Close()

	step := NewHTTPStep()

	_, err := step.Execute(context.Background(), NewRequest("fetch", domain.Params{"url": server.URL}, 0))
	if !IsHTTPError(err) {
		t.Fatalf("expected HTTPError, got %v", err)
	}

	var httpErr *HTTPError
	errors.As(err, &httpErr)
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", httpErr.StatusCode)
	}
	if len(httpErr.Body) > 512 {
		t.Errorf("body should be truncated, got %d bytes", len(httpErr.Body))
	}

	// fail_on_status=false — статус возвращается как результат
	resp, err := step.Execute(context.Background(), NewRequest("fetch", domain.Params{
		"url":            server.URL,
		"fail_on_status": false,
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Outputs["status_code"] != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp.Outputs["status_code"])
	}
}

func TestHTTPStep_InvalidConfig(t *testing.T) {
	_, err := NewHTTPStep().Execute(context.Background(), NewRequest("fetch", domain.Params{}, 0))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHTTPStep_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPStep().Execute(ctx, NewRequest("slow", domain.Params{"url": server.URL}, 0))
	if !errors.Is(err, ErrStepCancelled) {
		t.Errorf("expected ErrStepCancelled, got %v", err)
	}
}

func TestHTTPStep_HeaderNamesAreCanonical(t *testing.T) {
	var contentTypes []string
	var trace, body string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentTypes = r.Header.Values("Content-Type")
		trace = r.Header.Get("X-Trace")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	_, err := NewHTTPStep().Execute(context.Background(), NewRequest("post", domain.Params{
		"method":  "POST",
		"url":     server.URL,
		"headers": map[string]any{"content-type": "text/plain", "x-trace": "abc"},
		"body":    "hello",
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(contentTypes) != 1 || contentTypes[0] != "text/plain" {
		t.Errorf("expected single text/plain Content-Type, got %v", contentTypes)
	}
	if trace != "abc" {
		t.Errorf("expected X-Trace abc, got %q", trace)
	}
	if body != "hello" {
		t.Errorf("string body must be sent as is, got %q", body)
	}
}

func TestHTTPStep_FollowRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tests := []struct {
		name   string
		follow bool
		want   int
	}{
		{"follow", true, http.StatusOK},
		{"stop at redirect", false, http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewHTTPStep().Execute(context.Background(), NewRequest("fetch", domain.Params{
				"url":              server.URL + "/old",
				"follow_redirects": tt.follow,
			}, 0))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Outputs["status_code"] != tt.want {
				t.Errorf("expected %d, got %v", tt.want, resp.Outputs["status_code"])
			}
		})
	}
}

func TestHTTPStep_ResponseDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
		w.Header().Add("X-Tag", "a")
		w.Header().Add("X-Tag", "b")
		w.Write([]byte(`{"title":"partial"}`))
	}))
	defer server.Close()

	resp, err := NewHTTPStep().Execute(context.Background(), NewRequest("fetch", domain.Params{"url": server.URL}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, ok := resp.Outputs["body"].(map[string]any)
	if !ok || body["title"] != "partial" {
		t.Errorf("expected decoded +json body, got %#v", resp.Outputs["body"])
	}
	headers, ok := resp.Outputs["headers"].(map[string]string)
	if !ok {
		t.Fatalf("expected headers map, got %T", resp.Outputs["headers"])
	}
	if headers["X-Tag"] != "a, b" {
		t.Errorf("expected joined header values, got %q", headers["X-Tag"])
	}
}

func TestHTTPStep_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/file", "example.com/path", "http://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := NewHTTPStep().Execute(context.Background(), NewRequest("fetch", domain.Params{"url": raw}, 0))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

// Transform Step Tests

func TestTransformStep_Execute(t *testing.T) {
	step := NewTransformStep()

	resp, err := step.Execute(context.Background(), NewRequest("shape", domain.Params{
		"input": map[string]any{
			"items": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
		},
		"mappings": map[string]any{
			"total":    ".items | length",
			"first_id": ".items[0].id",
		},
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["total"] != 2 {
		t.Errorf("expected total 2, got %#v", resp.Outputs["total"])
	}
	if resp.Outputs["first_id"] != "a" {
		t.Errorf("expected first_id a, got %v", resp.Outputs["first_id"])
	}
	if resp.Outputs["status"] != "completed" {
		t.Errorf("expected default status, got %v", resp.Outputs["status"])
	}
}

func TestTransformStep_StatusFromMapping(t *testing.T) {
	step := NewTransformStep()

	resp, err := step.Execute(context.Background(), NewRequest("classify", domain.Params{
		"score": 3,
		"mappings": map[string]any{
			"status": `if .score > 2 then "escalated" else "ok" end`,
		},
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["status"] != "escalated" {
		t.Errorf("expected escalated, got %v", resp.Outputs["status"])
	}
}

func TestTransformStep_InvalidExpression(t *testing.T) {
	_, err := NewTransformStep().Execute(context.Background(), NewRequest("bad", domain.Params{
		"mappings": map[string]any{"x": ".items["},
	}, 0))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultMaxResponseBytes caps how much of an HTTP response body HTTPTool
// returns. A tool's output is fed back into the model's context window, so
// an unbounded response (a large JSON payload, an HTML page) would blow
// past a model's context budget far sooner than it would matter to a human
// caller.
const defaultMaxResponseBytes = 64 * 1024

var allowedHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// HTTPTool lets an LLM vertex issue an HTTP request as a tool call: fetch a
// REST endpoint, post to a webhook, or probe a local service. The response
// body is truncated to MaxResponseBytes (default 64KiB) before being
// handed back, with a truncated flag so the model knows the body was cut.
type HTTPTool struct {
	client           *http.Client
	MaxResponseBytes int
}

// NewHTTPTool returns an HTTPTool with a default per-request timeout and
// response size cap.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		client:           &http.Client{Timeout: 30 * time.Second},
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

func (h *HTTPTool) Name() string { return "http_request" }

func (h *HTTPTool) Description() string {
	return "Makes an HTTP request (GET, POST, PUT, PATCH, DELETE) and returns the status code, headers, and (possibly truncated) body."
}

func (h *HTTPTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"method":  map[string]interface{}{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
			"url":     map[string]interface{}{"type": "string"},
			"headers": map[string]interface{}{"type": "object"},
			"body":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"url"},
	}
}

func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !allowedHTTPMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := h.MaxResponseBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	truncated := len(respBody) > limit
	if truncated {
		respBody = respBody[:limit]
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
		"truncated":   truncated,
	}, nil
}

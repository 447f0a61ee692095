package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPClient implements Client against the service's REST API.
type HTTPClient struct {
	BaseURL string
	Paths   map[Endpoint]string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPClient creates a client with optional proxy support.
// Paths missing from overrides fall back to DefaultPaths.
func NewHTTPClient(baseURL, proxyURL string, timeout time.Duration, overrides map[string]string) *HTTPClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	paths := make(map[Endpoint]string, len(DefaultPaths))
	for k, v := range DefaultPaths {
		paths[k] = v
	}
	for k, v := range overrides {
		paths[Endpoint(k)] = v
	}
	return &HTTPClient{
		BaseURL: baseURL,
		Paths:   paths,
		Timeout: timeout,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *HTTPClient) Name() string { return "http" }

// Call performs one HTTP round trip and classifies the result.
func (c *HTTPClient) Call(ctx context.Context, token string, req Request) Outcome {
	path, ok := c.Paths[req.Endpoint]
	if !ok {
		return Fatal(fmt.Sprintf("unknown endpoint %q", req.Endpoint))
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var body io.Reader
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return Fatal(fmt.Sprintf("marshal payload: %v", err))
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return Fatal(fmt.Sprintf("create request: %v", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Auth && token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return Retryable(fmt.Sprintf("%s: timeout after %v", req.Endpoint, c.Timeout))
		}
		return Retryable(fmt.Sprintf("%s: %v", req.Endpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Retryable(fmt.Sprintf("%s: read response: %v", req.Endpoint, err))
	}

	return classify(req.Endpoint, resp.StatusCode, respBody)
}

// classify maps a transport result onto an Outcome. Business failure flags
// inside a 2xx payload are left for callers to inspect.
func classify(endpoint Endpoint, status int, body []byte) Outcome {
	switch {
	case status == http.StatusUnauthorized:
		return AuthExpired(fmt.Sprintf("%s: status 401", endpoint))
	case status == http.StatusTooManyRequests:
		return RateLimited()
	case status >= 400:
		o := Retryable(fmt.Sprintf("%s: status %d, body: %s", endpoint, status, truncate(string(body), 200)))
		o.StatusCode = status
		return o
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = map[string]any{"raw": string(body)}
		}
	}
	o := OK(payload)
	o.StatusCode = status
	return o
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		sent   error
	}{
		{"ok", http.StatusOK, `{"balance": 15000}`, KindOK, nil},
		{"unauthorized", http.StatusUnauthorized, ``, KindAuthExpired, ErrAuthExpired},
		{"rate limited", http.StatusTooManyRequests, ``, KindRateLimited, ErrRateLimited},
		{"bad request", http.StatusBadRequest, `{"error":"x"}`, KindRetryable, ErrTransient},
		{"forbidden", http.StatusForbidden, ``, KindRetryable, ErrTransient},
		{"server error", http.StatusInternalServerError, `oops`, KindRetryable, ErrTransient},
		{"business failure stays ok", http.StatusOK, `{"success": false}`, KindOK, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.status, tt.body)
			c := NewHTTPClient(srv.URL, "", time.Second, nil)
			o := c.Call(context.Background(), "tok", Request{Endpoint: EndpointFunds, Auth: true})
			if o.Kind != tt.kind {
				t.Fatalf("expected %s, got %s (%s)", tt.kind, o.Kind, o.Reason)
			}
			if tt.sent == nil {
				if o.Err() != nil {
					t.Errorf("unexpected error: %v", o.Err())
				}
				return
			}
			if !errors.Is(o.Err(), tt.sent) {
				t.Errorf("expected %v, got %v", tt.sent, o.Err())
			}
		})
	}
}

func TestHTTPClient_PayloadAndHeaders(t *testing.T) {
	var gotAuth, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPaths[EndpointPurchase] {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "balance": 9000})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second, nil)
	o := c.Call(context.Background(), "sess", Request{
		Endpoint: EndpointPurchase,
		Method:   http.MethodPost,
		Auth:     true,
		Payload:  map[string]any{"item": "ticket"},
	})
	if !o.IsOK() {
		t.Fatalf("expected ok, got %s", o.Kind)
	}
	if gotAuth != "Bearer sess" || gotType != "application/json" {
		t.Errorf("unexpected headers: %q %q", gotAuth, gotType)
	}
	if gotBody["item"] != "ticket" {
		t.Errorf("payload not sent: %v", gotBody)
	}
	if o.Bool("success") {
		t.Error("success flag should be false")
	}
	if bal, ok := o.Int("balance"); !ok || bal != 9000 {
		t.Errorf("expected balance 9000, got %d", bal)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond, nil)
	o := c.Call(context.Background(), "", Request{Endpoint: EndpointFunds})
	if o.Kind != KindRetryable {
		t.Fatalf("timeout should be retryable, got %s", o.Kind)
	}
}

func TestHTTPClient_UnknownEndpointIsFatal(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", time.Second, nil)
	o := c.Call(context.Background(), "", Request{Endpoint: "nope"})
	if o.Kind != KindFatal || !errors.Is(o.Err(), ErrFatal) {
		t.Fatalf("expected fatal, got %s", o.Kind)
	}
}

func TestHTTPClient_PathOverride(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second, map[string]string{"funds": "/v2/balance"})
	c.Call(context.Background(), "", Request{Endpoint: EndpointFunds})
	if path != "/v2/balance" {
		t.Errorf("expected override path, got %s", path)
	}
}

type staticCreds struct{ session string }

func (s staticCreds) Credentials(string) (string, string, error) { return "r", s.session, nil }

func TestExecutor_NoSessionIsAuthExpired(t *testing.T) {
	mock := NewMockClient()
	e := NewExecutor(mock, staticCreds{})
	o := e.Execute(context.Background(), "a", Request{Endpoint: EndpointFunds, Auth: true})
	if o.Kind != KindAuthExpired {
		t.Fatalf("expected auth expired, got %s", o.Kind)
	}
	if len(mock.Calls) != 0 {
		t.Error("no network call expected without a session")
	}

	e = NewExecutor(mock, staticCreds{session: "s"})
	if o := e.Execute(context.Background(), "a", Request{Endpoint: EndpointFunds, Auth: true}); !o.IsOK() {
		t.Fatalf("expected ok, got %s", o.Kind)
	}
	if mock.Calls[0].Token != "s" {
		t.Errorf("expected session token, got %q", mock.Calls[0].Token)
	}
}

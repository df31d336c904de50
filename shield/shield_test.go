package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/blurkit/kit"
)

func chain(h http.Handler) http.Handler {
	stack := APIStack(nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestAPIStack_HeadersAndRequestID(t *testing.T) {
	var gotID, gotTransport string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/pages", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotID != "abc-123" {
		t.Errorf("request id: got %q, want abc-123", gotID)
	}
	if gotTransport != "http" {
		t.Errorf("transport: got %q, want http", gotTransport)
	}
	if rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("echoed id: got %q", rec.Header().Get(RequestIDHeader))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing no-store")
	}
}

func TestRequestID_Generated(t *testing.T) {
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("no request id generated")
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/health", nil))
	if method != http.MethodGet {
		t.Errorf("method: got %q, want GET", method)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/settings", strings.NewReader(`{"detect":true}`)))
	if readErr == nil {
		t.Error("body over the limit was read")
	}
}

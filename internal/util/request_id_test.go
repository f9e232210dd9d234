package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestIDEchoesCallerID(t *testing.T) {
	const incoming = "storyctl-7f3a"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Fatalf("context request id = %q, want %q", got, incoming)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/book/discover", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Fatalf("response request id = %q, want %q", got, incoming)
	}
}

func TestWithRequestIDReplacesMissingOrMalformed(t *testing.T) {
	for name, header := range map[string]string{
		"missing":  "",
		"spaces":   "two words",
		"too long": strings.Repeat("a", maxRequestIDLen+1),
		"control":  "id\x01",
	} {
		var seen string
		handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromRequest(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if header != "" {
			req.Header.Set(RequestIDHeader, header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get(RequestIDHeader)
		if got == "" || got == header || got != seen {
			t.Fatalf("%s: response id %q, context id %q", name, got, seen)
		}
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		if _, dup := seen[id]; dup || id == "" {
			t.Fatalf("bad request id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewIDSortsByCreation(t *testing.T) {
	first := NewID()
	if len(first) != 24 {
		t.Fatalf("id length = %d, want 24", len(first))
	}
	second := NewID()
	if first[:12] > second[:12] {
		t.Fatalf("time prefix went backwards: %s then %s", first, second)
	}
	if first == second {
		t.Fatalf("ids collide: %s", first)
	}
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := WithRequestID(WithRequestLog("sandbox", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"book not found"}`))
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/book/42", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" || entry["level"] != "WARN" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-42" || entry["status"] != float64(404) || entry["bytes"] != float64(26) {
		t.Fatalf("unexpected fields: %v", entry)
	}
}

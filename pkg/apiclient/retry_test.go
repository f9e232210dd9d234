package apiclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	want := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second}
	for attempt, d := range want {
		if got := BackoffDelay(attempt); got != d {
			t.Fatalf("BackoffDelay(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	tests := map[string]bool{
		"/api/book/discover":     true,
		"/api/book/12/cover":     true,
		"/api/auth/login":        true,
		"/api/auth/me":           true,
		"/api/book/history":      false,
		"/api/book/12":           false,
		"/api/book/12/pdf":       false,
		"/api/book/12/cover/raw": false,
		"/api/subscription/sync": false,
		"/api/book/discover?x=1": true,
	}
	for path, want := range tests {
		if got := IsPublicPath(path); got != want {
			t.Fatalf("IsPublicPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	transport := &APIError{Kind: KindNoConnection, Path: "/api/book/history", Err: errors.New("reset")}
	probe := &APIError{Kind: KindNoConnection, Path: "/api/book/history"}
	status := func(code int, path string) *APIError {
		return &APIError{Kind: kindForStatus(code), Status: code, Path: path}
	}
	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"transport", 1, transport, true},
		{"transport exhausted", 4, transport, false},
		{"probe rejection", 1, probe, false},
		{"attempt timeout", 2, &APIError{Kind: KindTimeout, Path: "/api/book/history", Err: context.DeadlineExceeded}, true},
		{"503", 3, status(503, "/api/book/history"), true},
		{"429", 1, status(429, "/api/book/history"), true},
		{"408", 2, status(408, "/api/book/1"), true},
		{"401 never", 1, status(401, "/api/auth/me"), false},
		{"403 private", 1, status(403, "/api/book/history"), false},
		{"403 public", 1, status(403, "/api/book/discover"), true},
		{"404", 1, status(404, "/api/book/1"), false},
		{"400", 1, status(400, "/api/book/generate"), false},
		{"plain error", 1, errors.New("boom"), false},
		{"zero attempt", 0, status(500, "/api/book/1"), false},
	}
	for _, tc := range tests {
		if got := ShouldRetry(tc.attempt, tc.err); got != tc.want {
			t.Fatalf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUserMessageFallbacks(t *testing.T) {
	if got := UserMessage(&APIError{Status: 418}); got != "Something went wrong. Please try again." {
		t.Fatalf("message = %q", got)
	}
	if got := UserMessage(&APIError{Status: 418, Message: "short and stout"}); got != "short and stout" {
		t.Fatalf("message = %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "Something went wrong. Please try again." {
		t.Fatalf("message = %q", got)
	}
	if got := UserMessage(&APIError{Kind: KindNotFound, Status: 404}); got != "Resource not found." {
		t.Fatalf("message = %q", got)
	}
	if got := UserMessage(&APIError{Kind: KindBadRequest, Status: 400, Message: "x"}); got != "Invalid request. Please check your input." {
		t.Fatalf("message = %q", got)
	}
}

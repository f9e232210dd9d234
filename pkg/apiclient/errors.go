package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed call for retry decisions and user messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoConnection
	KindBadRequest
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindTimeout
	KindRateLimited
	KindServer
)

var (
	ErrNoConnection    = errors.New("no connection")
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("request timeout")
	ErrRateLimited     = errors.New("rate limited")
	ErrServer          = errors.New("server error")
)

const (
	msgNoConnection = "Unable to connect to server. Please check your internet connection."
	msgBadRequest   = "Invalid request. Please check your input."
	msgSession      = "Session expired. Please log in again."
	msgForbidden    = "Access denied. You don't have permission to perform this action."
	msgNotFound     = "Resource not found."
	msgTimeout      = "Request timed out. Please try again."
	msgRateLimited  = "Too many requests. Please wait a moment and try again."
	msgServer       = "Server error. Please try again later."
	msgUnknown      = "Something went wrong. Please try again."
)

// APIError is the only error type the pipeline surfaces for a failed call.
// Status is 0 when no response was received.
type APIError struct {
	Kind      Kind
	Status    int
	Method    string
	Path      string
	Message   string
	Code      string
	RequestID string
	Attempts  int
	Err       error

	token string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, ErrUnauthenticated) works.
func (e *APIError) Is(target error) bool {
	s := sentinel(e.Kind)
	return s != nil && target == s
}

// SessionToken returns the bearer token the failed attempt carried, if any.
// The auth layer compares it with the current token before clearing a session.
func (e *APIError) SessionToken() string {
	return e.token
}

// UserMessage is the text shown to the user for this failure.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case KindNoConnection:
		return msgNoConnection
	case KindBadRequest:
		return msgBadRequest
	case KindUnauthenticated:
		return msgSession
	case KindForbidden:
		return msgForbidden
	case KindNotFound:
		return msgNotFound
	case KindTimeout:
		return msgTimeout
	case KindRateLimited:
		return msgRateLimited
	case KindServer:
		return msgServer
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return msgUnknown
}

// UserMessage renders any error returned by this package for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	if errors.Is(err, ErrNoConnection) {
		return msgNoConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}
	return msgUnknown
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthenticated
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServer
	}
	return KindUnknown
}

func sentinel(k Kind) error {
	switch k {
	case KindNoConnection:
		return ErrNoConnection
	case KindBadRequest:
		return ErrBadRequest
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindTimeout:
		return ErrTimeout
	case KindRateLimited:
		return ErrRateLimited
	case KindServer:
		return ErrServer
	}
	return nil
}

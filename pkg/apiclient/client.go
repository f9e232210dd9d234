package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storybookai/internal/util"
	"storybookai/pkg/connectivity"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the current bearer token. An empty token means
// no session; the request is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenSource
	Probe      connectivity.Checker
	HTTPClient *http.Client
	Logger     *slog.Logger
	// NewTimer overrides the timer used between retries.
	NewTimer func() backoff.Timer
}

// Client is the request pipeline for the storybook API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	tokens     TokenSource
	probe      connectivity.Checker
	httpClient *http.Client
	logger     *slog.Logger
	newTimer   func() backoff.Timer
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		tokens:     cfg.Tokens,
		probe:      cfg.Probe,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		newTimer:   cfg.NewTimer,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type requestDescriptor struct {
	method  string
	path    string
	body    []byte
	retries int
}

// do sends the request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	data, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send runs the full pipeline: probe, attempts, retries. It returns the raw
// response body of the successful attempt.
func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	desc := &requestDescriptor{method: method, path: path}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		desc.body = body
	}

	if !connectivity.IsConnected(ctx, c.probe) {
		return nil, c.noConnection(desc)
	}

	var result []byte
	op := func() error {
		if desc.retries > 0 && !connectivity.IsConnected(ctx, c.probe) {
			return backoff.Permanent(c.noConnection(desc))
		}
		data, err := c.attempt(ctx, desc)
		if err == nil {
			result = data
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Attempts = desc.retries + 1
		}
		if !ShouldRetry(desc.retries+1, err) {
			return backoff.Permanent(err)
		}
		desc.retries++
		return err
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	b := backoff.WithContext(&descriptorBackOff{desc: desc}, ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, nil, timer); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, desc *requestDescriptor) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if desc.body != nil {
		body = bytes.NewReader(desc.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, desc.method, c.baseURL+desc.path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	token := c.token(ctx)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := util.NewRequestID()
	req.Header.Set(util.RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logAttempt(ctx, desc, requestID, 0, time.Since(start), err)
		kind := KindNoConnection
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// only this attempt ran out of time
			kind = KindTimeout
		}
		return nil, &APIError{
			Kind:      kind,
			Method:    desc.method,
			Path:      desc.path,
			RequestID: requestID,
			Err:       err,
			token:     token,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logAttempt(ctx, desc, requestID, resp.StatusCode, time.Since(start), err)
		return nil, &APIError{
			Kind:      KindNoConnection,
			Method:    desc.method,
			Path:      desc.path,
			RequestID: requestID,
			Err:       fmt.Errorf("read body: %w", err),
			token:     token,
		}
	}
	c.logAttempt(ctx, desc, requestID, resp.StatusCode, time.Since(start), nil)

	if resp.StatusCode >= 400 {
		return nil, statusError(desc, resp.StatusCode, data, requestID, token)
	}
	return data, nil
}

func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn("token_unavailable", "err", err)
		return ""
	}
	return strings.TrimSpace(token)
}

func (c *Client) noConnection(desc *requestDescriptor) *APIError {
	return &APIError{
		Kind:     KindNoConnection,
		Method:   desc.method,
		Path:     desc.path,
		Attempts: desc.retries,
	}
}

func (c *Client) logAttempt(ctx context.Context, desc *requestDescriptor, requestID string, status int, elapsed time.Duration, err error) {
	attrs := []any{
		"method", desc.method,
		"path", desc.path,
		"attempt", desc.retries + 1,
		"duration_ms", elapsed.Milliseconds(),
		"request_id", requestID,
	}
	if status != 0 {
		attrs = append(attrs, "status", status)
	}
	if err != nil {
		attrs = append(attrs, "err", err)
		c.logger.WarnContext(ctx, "api_request", attrs...)
		return
	}
	c.logger.InfoContext(ctx, "api_request", attrs...)
}

func statusError(desc *requestDescriptor, status int, body []byte, requestID, token string) *APIError {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := strings.TrimSpace(errResp.Error)
	if msg == "" {
		msg = strings.TrimSpace(errResp.Message)
	}
	return &APIError{
		Kind:      kindForStatus(status),
		Status:    status,
		Method:    desc.method,
		Path:      desc.path,
		Message:   msg,
		Code:      strings.TrimSpace(errResp.Code),
		RequestID: requestID,
		token:     token,
	}
}

// Package connectivity answers whether the API host is currently reachable.
// Every check fails open: a probe that cannot decide never blocks a request.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const defaultDialTimeout = 2 * time.Second

// Checker reports reachability. An error means the check itself failed.
type Checker interface {
	Check(ctx context.Context) (bool, error)
}

// IsConnected runs c and falls back to true when c is nil or errors.
func IsConnected(ctx context.Context, c Checker) bool {
	if c == nil {
		return true
	}
	ok, err := c.Check(ctx)
	if err != nil {
		return true
	}
	return ok
}

// Func adapts a function to Checker.
type Func func(ctx context.Context) (bool, error)

func (f Func) Check(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static always reports the same answer.
type Static bool

func (s Static) Check(context.Context) (bool, error) {
	return bool(s), nil
}

// DialChecker opens a TCP connection to the API host.
type DialChecker struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialChecker derives host:port from baseURL.
func NewDialChecker(baseURL string, timeout time.Duration) (*DialChecker, error) {
	addr, err := hostPort(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := &net.Dialer{}
	return &DialChecker{addr: addr, timeout: timeout, dial: d.DialContext}, nil
}

// Check dials the host. A dial failure means disconnected, not an error.
func (c *DialChecker) Check(ctx context.Context) (bool, error) {
	if c == nil || c.dial == nil {
		return false, errors.New("dial checker not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func hostPort(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		default:
			return "", fmt.Errorf("base url %q: unsupported scheme %q", baseURL, u.Scheme)
		}
	}
	return net.JoinHostPort(host, port), nil
}

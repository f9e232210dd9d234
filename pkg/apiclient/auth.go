package apiclient

import (
	"context"
	"net/http"
	"strings"

	"storybookai/pkg/domain"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.AuthResponse, error) {
	var resp domain.AuthResponse
	req := loginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return domain.AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, name, email, password string) (domain.AuthResponse, error) {
	var resp domain.AuthResponse
	req := registerRequest{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return domain.AuthResponse{}, err
	}
	return resp, nil
}

// Me returns the user record for the current session.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodPut, "/api/auth/profile", update, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

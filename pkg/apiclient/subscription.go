package apiclient

import (
	"context"
	"net/http"
)

// SyncSubscription reports the store-side subscription state to the server.
func (c *Client) SyncSubscription(ctx context.Context, isPro bool) error {
	body := struct {
		IsPro bool `json:"isPro"`
	}{IsPro: isPro}
	return c.do(ctx, http.MethodPost, "/api/subscription/sync", body, nil)
}

package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"storybookai/pkg/domain"
)

func bookPath(id int64, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("/api/book/%d", id)
	}
	return fmt.Sprintf("/api/book/%d/%s", id, suffix)
}

// Discover lists public books.
func (c *Client) Discover(ctx context.Context) ([]domain.Book, error) {
	return c.listBooks(ctx, "/api/book/discover")
}

// History lists the caller's own books.
func (c *Client) History(ctx context.Context) ([]domain.Book, error) {
	return c.listBooks(ctx, "/api/book/history")
}

func (c *Client) listBooks(ctx context.Context, path string) ([]domain.Book, error) {
	var books []domain.Book
	if err := c.do(ctx, http.MethodGet, path, nil, &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []domain.Book{}
	}
	return books, nil
}

func (c *Client) Book(ctx context.Context, id int64) (domain.BookDetail, error) {
	var book domain.BookDetail
	if err := c.do(ctx, http.MethodGet, bookPath(id, ""), nil, &book); err != nil {
		return domain.BookDetail{}, err
	}
	return book, nil
}

// Generate submits a generation request and returns the new book id.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	var resp domain.GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/book/generate", req, &resp); err != nil {
		return domain.GenerateResponse{}, err
	}
	return resp, nil
}

func (c *Client) BookStatus(ctx context.Context, id int64) (domain.GenerationStatus, error) {
	var status domain.GenerationStatus
	if err := c.do(ctx, http.MethodGet, bookPath(id, "status"), nil, &status); err != nil {
		return domain.GenerationStatus{}, err
	}
	return status, nil
}

// Cover downloads the cover image bytes.
func (c *Client) Cover(ctx context.Context, id int64) ([]byte, error) {
	return c.send(ctx, http.MethodGet, bookPath(id, "cover"), nil)
}

// CoverURL is the absolute cover location for renderers that fetch it themselves.
func (c *Client) CoverURL(id int64) string {
	return c.baseURL + bookPath(id, "cover")
}

// PDF downloads the rendered book.
func (c *Client) PDF(ctx context.Context, id int64) ([]byte, error) {
	return c.send(ctx, http.MethodGet, bookPath(id, "pdf"), nil)
}

func (c *Client) SetVisibility(ctx context.Context, id int64, isPublic bool) error {
	body := struct {
		IsPublic bool `json:"isPublic"`
	}{IsPublic: isPublic}
	return c.do(ctx, http.MethodPatch, bookPath(id, "visibility"), body, nil)
}

func (c *Client) DeleteBook(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, bookPath(id, ""), nil, nil)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"storybookai/pkg/apiclient"
	"storybookai/pkg/cache"
	"storybookai/pkg/document"
	"storybookai/pkg/domain"
)

// coverRetries is how many times a missing cover is fetched again.
const coverRetries = 10

// bookList is the read-through cache for one book list.
type bookList struct {
	*deps
	channel cache.Channel
	fetch   func(context.Context) ([]domain.Book, error)
	group   *singleflight.Group
}

func (l *bookList) load(ctx context.Context, force bool) ([]domain.Book, error) {
	if !force {
		if books, ok := l.cache.Load(ctx, l.channel); ok && len(books) > 0 {
			return books, nil
		}
	}
	sent := l.currentToken(ctx)
	// The fetch is shared by every caller waiting on this channel, so one
	// caller giving up must not cancel it for the rest. Attempt timeouts
	// and the retry cap still bound it.
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(string(l.channel), func() (any, error) {
		books, err := l.fetch(shared)
		if err != nil {
			return nil, err
		}
		// a failed save only costs the next load a request
		_ = l.cache.Save(shared, l.channel, books)
		return books, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", l.channel, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			l.dropSessionOn401(ctx, res.Err, sent)
			return nil, fmt.Errorf("load %s: %w", l.channel, res.Err)
		}
		return res.Val.([]domain.Book), nil
	}
}

// Discover lists public books.
type Discover struct {
	list bookList
}

// Load returns the public books, from cache unless force is set.
func (s *Discover) Load(ctx context.Context, force bool) ([]domain.Book, error) {
	return s.list.load(ctx, force)
}

// Library lists the signed-in user's books.
type Library struct {
	list bookList
}

func (s *Library) Load(ctx context.Context, force bool) ([]domain.Book, error) {
	if !s.list.session.SignedIn() {
		return nil, ErrLoginRequired
	}
	return s.list.load(ctx, force)
}

// BookView is a book prepared for reading.
type BookView struct {
	domain.BookDetail
	Text    string
	Age     string
	IsOwner bool
}

// Detail is the book reader and its owner actions.
type Detail struct {
	*deps
	coverRetryDelay time.Duration
}

func (s *Detail) Load(ctx context.Context, id int64) (BookView, error) {
	sent := s.currentToken(ctx)
	book, err := s.api.Book(ctx, id)
	if err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return BookView{}, err
	}
	text, err := document.StripHTML(book.Content)
	if err != nil {
		s.logger.Warn("book_content_unparsed", "book_id", id, "err", err)
		text = book.Content
	}
	view := BookView{BookDetail: book, Text: text, Age: document.FormatAge(book.CreatedAt, s.now())}
	if user, ok := s.session.User(); ok && user.ID == book.AuthorID {
		view.IsOwner = true
	}
	return view, nil
}

// SetVisibility publishes or hides a book the user owns.
func (s *Detail) SetVisibility(ctx context.Context, id int64, isPublic bool) error {
	if !s.session.SignedIn() {
		return ErrLoginRequired
	}
	sent := s.currentToken(ctx)
	if err := s.api.SetVisibility(ctx, id, isPublic); err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return err
	}
	s.invalidate(ctx, cache.Library, cache.Discover)
	return nil
}

func (s *Detail) Delete(ctx context.Context, id int64) error {
	if !s.session.SignedIn() {
		return ErrLoginRequired
	}
	sent := s.currentToken(ctx)
	if err := s.api.DeleteBook(ctx, id); err != nil {
		s.dropSessionOn401(ctx, err, sent)
		return err
	}
	s.invalidate(ctx, cache.Library, cache.Discover)
	return nil
}

// DownloadPDF saves the book to path and reports what was written.
func (s *Detail) DownloadPDF(ctx context.Context, id int64, path string) (document.PDFInfo, error) {
	data, err := s.api.PDF(ctx, id)
	if err != nil {
		return document.PDFInfo{}, err
	}
	info, err := document.InspectPDF(data)
	if err != nil {
		return document.PDFInfo{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return document.PDFInfo{}, fmt.Errorf("write pdf: %w", err)
	}
	return info, nil
}

// DownloadCover fetches the cover image. A cover that is still being drawn
// answers 404, so those are retried on a fixed delay.
func (s *Detail) DownloadCover(ctx context.Context, id int64) ([]byte, error) {
	var data []byte
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.coverRetryDelay), coverRetries), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		cover, err := s.api.Cover(ctx, id)
		if err == nil {
			data = cover
			return nil
		}
		if errors.Is(err, apiclient.ErrNotFound) {
			s.logger.Debug("cover_not_ready", "book_id", id, "attempt", attempt)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Archived describes the stored files of one book.
type Archived struct {
	BookID   int64
	PDFKey   string
	CoverKey string
	PDFURL   string
}

// Archive stores finished books under books/<id>/.
type Archive struct {
	store     ObjectStore
	urlExpiry time.Duration
}

func NewArchive(store ObjectStore, urlExpiry time.Duration) *Archive {
	if urlExpiry <= 0 {
		urlExpiry = 24 * time.Hour
	}
	return &Archive{store: store, urlExpiry: urlExpiry}
}

func PDFKey(bookID int64) string {
	return fmt.Sprintf("books/%d/book.pdf", bookID)
}

func CoverKey(bookID int64) string {
	return fmt.Sprintf("books/%d/cover", bookID)
}

// Save uploads the PDF and, when present, the cover image.
func (a *Archive) Save(ctx context.Context, bookID int64, pdf, cover []byte) (Archived, error) {
	out := Archived{BookID: bookID, PDFKey: PDFKey(bookID)}
	if err := a.store.Put(ctx, out.PDFKey, bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"); err != nil {
		return Archived{}, fmt.Errorf("archive pdf %d: %w", bookID, err)
	}
	if len(cover) > 0 {
		out.CoverKey = CoverKey(bookID)
		contentType := http.DetectContentType(cover)
		if err := a.store.Put(ctx, out.CoverKey, bytes.NewReader(cover), int64(len(cover)), contentType); err != nil {
			return Archived{}, fmt.Errorf("archive cover %d: %w", bookID, err)
		}
	}
	url, err := a.store.PresignGet(ctx, out.PDFKey, a.urlExpiry)
	if err != nil {
		return Archived{}, fmt.Errorf("presign pdf %d: %w", bookID, err)
	}
	out.PDFURL = url
	return out, nil
}

// Remove deletes both files of a book.
func (a *Archive) Remove(ctx context.Context, bookID int64) error {
	if err := a.store.Delete(ctx, PDFKey(bookID)); err != nil {
		return err
	}
	return a.store.Delete(ctx, CoverKey(bookID))
}

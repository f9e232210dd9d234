package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestArchiveSaveAndRemove(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	archive := NewArchive(fs, time.Hour)

	got, err := archive.Save(ctx, 42, []byte("%PDF-1.4 body"), []byte{0xff, 0xd8, 0xff, 0xe0})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.PDFKey != "books/42/book.pdf" || got.CoverKey != "books/42/cover" {
		t.Fatalf("unexpected keys: %+v", got)
	}
	if !strings.HasPrefix(got.PDFURL, "file://") || !strings.HasSuffix(got.PDFURL, "/books/42/book.pdf") {
		t.Fatalf("unexpected url: %s", got.PDFURL)
	}

	rc, err := fs.Get(ctx, got.PDFKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "%PDF-1.4 body" {
		t.Fatalf("pdf content = %q", data)
	}

	if err := archive.Remove(ctx, 42); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := fs.Get(ctx, got.CoverKey); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected cover removed, got %v", err)
	}
}

func TestArchiveWithoutCover(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	got, err := NewArchive(fs, 0).Save(context.Background(), 7, []byte("%PDF"), nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.CoverKey != "" {
		t.Fatalf("cover key should be empty, got %q", got.CoverKey)
	}
}

func TestFileStoreKeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	fs, _ := NewFileStore(root)
	if err := fs.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := fs.Get(context.Background(), "escape.txt")
	if err != nil {
		t.Fatalf("traversal key should land inside root: %v", err)
	}
	rc.Close()
}

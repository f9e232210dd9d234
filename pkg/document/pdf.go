package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("not a pdf document")

// PDFInfo summarises a downloaded book.
type PDFInfo struct {
	Pages     int
	SizeBytes int64
	// FirstPage is the normalized text of page 1, empty when it has none.
	FirstPage string
}

// InspectPDF opens data as a PDF and reports its page count.
func InspectPDF(data []byte) (PDFInfo, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return PDFInfo{}, ErrNotPDF
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFInfo{}, fmt.Errorf("open pdf: %w", err)
	}
	info := PDFInfo{Pages: reader.NumPage(), SizeBytes: int64(len(data))}
	if info.Pages > 0 {
		page := reader.Page(1)
		if !page.V.IsNull() {
			// text extraction is best effort; image-only pages have none
			if text, err := page.GetPlainText(nil); err == nil {
				info.FirstPage = strings.Join(strings.Fields(text), " ")
			}
		}
	}
	return info, nil
}

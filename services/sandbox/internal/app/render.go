package app

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"html"
	"image"
	"image/color"
	"image/png"
	"strings"

	"storybookai/pkg/domain"
)

var paragraphsByLength = map[string]int{
	"Short":  3,
	"Medium": 5,
	"Long":   8,
}

var storyBeats = []string{
	"Once upon a time, %[1]s set out on a %[2]s journey where %[3]s waited around every corner.",
	"Along the way %[1]s met a new friend who knew all about %[3]s.",
	"The path grew tricky, but %[1]s remembered what %[4]s always said: be brave and be kind.",
	"Together they solved the riddle of the %[2]s and laughed until the stars came out.",
	"A gentle wind carried a secret map, and %[1]s followed it without a moment of doubt.",
	"At the top of the hill %[1]s found a glowing gift that turned every worry into wonder.",
	"Everyone cheered, because %[1]s had shown that %[3]s is best when it is shared.",
	"That night %[1]s fell asleep smiling, already dreaming of the next %[2]s adventure.",
}

// storyTitle picks the requested title or derives one from the character and theme.
func storyTitle(req domain.GenerateRequest) string {
	if title := strings.TrimSpace(req.BookTitle); title != "" {
		return title
	}
	return fmt.Sprintf("%s and the %s", req.Name, req.Theme)
}

func storyParagraphs(req domain.GenerateRequest) []string {
	n, ok := paragraphsByLength[req.Length]
	if !ok {
		n = paragraphsByLength["Short"]
	}
	topic := strings.TrimSpace(req.MainTopic)
	if topic == "" {
		topic = "friendship"
	}
	tone := strings.ToLower(req.Tone)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		beat := storyBeats[i%len(storyBeats)]
		if i == n-1 {
			beat = storyBeats[len(storyBeats)-1]
		}
		out = append(out, fmt.Sprintf(beat, req.Name, tone, topic, req.Giver))
	}
	return out
}

// renderStoryHTML produces the stored book content.
func renderStoryHTML(title string, paragraphs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(title))
	for _, p := range paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p))
	}
	return b.String()
}

// renderCover draws a flat cover whose colours are derived from the theme.
func renderCover(theme, style string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(theme + "|" + style))
	seed := h.Sum32()
	top := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 0xff}
	bottom := color.RGBA{R: top.R / 2, G: top.G / 2, B: top.B / 2, A: 0xff}

	const w, hgt = 64, 96
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	for y := 0; y < hgt; y++ {
		c := top
		if y >= hgt*2/3 {
			c = bottom
		}
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// renderPDF lays out a title page followed by one page per paragraph.
func renderPDF(title, character string, paragraphs []string) []byte {
	pages := make([][]string, 0, len(paragraphs)+1)
	pages = append(pages, []string{title, "", "Starring " + character})
	for _, p := range paragraphs {
		pages = append(pages, wrapText(p, 72))
	}

	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, 0, len(pages))
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, lines := range pages {
		size := 12
		if i == 0 {
			size = 20
		}
		var stream strings.Builder
		fmt.Fprintf(&stream, "BT /F1 %d Tf %d TL 72 720 Td", size, size+6)
		for j, line := range lines {
			if j > 0 {
				stream.WriteString(" T*")
			}
			fmt.Fprintf(&stream, " (%s) Tj", pdfEscape(line))
		}
		stream.WriteString(" ET")
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", stream.Len(), stream.String()))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func wrapText(text string, width int) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

// pdfEscape keeps printable ASCII and escapes string delimiters.
func pdfEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

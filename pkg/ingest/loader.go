package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	lpdf "github.com/ledongthuc/pdf"
	rpdf "rsc.io/pdf"
)

// Page is one unit of loaded text. Plain text files load as a single page.
type Page struct {
	Number int
	Text   string
}

func loadText(data []byte) []Page {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return []Page{{Number: 1, Text: text}}
}

// loadPDF extracts text page by page. ledongthuc/pdf handles most files;
// rsc.io/pdf is tried when it fails.
func loadPDF(data []byte) ([]Page, error) {
	pages, err := loadPDFLedongthuc(data)
	if err == nil {
		return pages, nil
	}
	fallback, ferr := loadPDFRsc(data)
	if ferr != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	return fallback, nil
}

func loadPDFLedongthuc(data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: clean(text)})
	}
	return pages, nil
}

func loadPDFRsc(data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	r, err := rpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		var sb strings.Builder
		for _, t := range p.Content().Text {
			sb.WriteString(t.S)
		}
		pages = append(pages, Page{Number: i, Text: clean(sb.String())})
	}
	return pages, nil
}

func clean(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

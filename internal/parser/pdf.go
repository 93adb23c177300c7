package parser

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// parsePDF reads the text layer page by page. Scanned pages come back empty
// and are left to OCR.
func (p *Parser) parsePDF(data []byte) (text string, pages int, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	numPages := reader.NumPage()
	if p.maxPages > 0 && numPages > p.maxPages {
		numPages = p.maxPages
	}

	var w PageWriter
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			w.Add(i, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		w.Add(i, tidyLines(pageText))
	}
	return w.String(), w.Pages(), nil
}

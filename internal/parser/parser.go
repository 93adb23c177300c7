// Package parser turns document bytes into plain text the chunker understands:
// page markers for paged formats, tab-separated rows for tables and markdown
// headings for structure.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

const (
	MethodDigital = "digital"
	MethodVision  = "vision"
)

// Result is the extracted text of one document
type Result struct {
	Text   string
	Pages  int
	Method string
}

// Extractor reads the text of one document. filename selects the format.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (Result, error)
}

// Parser extracts embedded text without OCR
type Parser struct {
	maxPages int
}

type Option func(*Parser)

// WithMaxPages stops paged formats after n pages; 0 means no limit
func WithMaxPages(n int) Option {
	return func(p *Parser) {
		if n >= 0 {
			p.maxPages = n
		}
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supported reports whether filename has an extension Extract can read
func Supported(filename string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(filename))]
	return ok
}

type format func(p *Parser, data []byte) (string, int, error)

var formats = map[string]format{
	".pdf":  (*Parser).parsePDF,
	".docx": (*Parser).parseDOCX,
	".pptx": (*Parser).parsePPTX,
	".xlsx": (*Parser).parseXLSX,
	".xlsm": (*Parser).parseWorkbook,
	".xltx": (*Parser).parseWorkbook,
	".ods":  (*Parser).parseODS,
	".md":   (*Parser).parseMarkdown,
	".txt":  (*Parser).parseText,
}

// Extract dispatches on the file extension. Errors are *models.ExtractionError.
func (p *Parser) Extract(ctx context.Context, filename string, data []byte) (Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	parse, ok := formats[ext]
	if !ok {
		return Result{}, &models.ExtractionError{Path: filename, Err: fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &models.ExtractionError{Path: filename, Err: err}
	}

	text, pages, err := parse(p, data)
	if err != nil {
		return Result{}, &models.ExtractionError{Path: filename, Err: err}
	}
	log.Debug().Str("file", filename).Int("pages", pages).Int("chars", len(text)).Msg("Extracted text")
	return Result{Text: text, Pages: pages, Method: MethodDigital}, nil
}

func (p *Parser) parseText(data []byte) (string, int, error) {
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n")), 1, nil
}

var pageMarkerRe = regexp.MustCompile(models.PageMarkerRegex)

// BodyLength counts the characters of text outside page markers
func BodyLength(text string) int {
	return len([]rune(strings.TrimSpace(pageMarkerRe.ReplaceAllString(text, ""))))
}

// PageWriter joins page texts under page markers. Empty pages are counted
// but not written.
type PageWriter struct {
	b     strings.Builder
	pages int
}

func (w *PageWriter) Add(number int, text string) {
	w.pages++
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
	fmt.Fprintf(&w.b, models.PageMarkerFmt, number)
	w.b.WriteString("\n")
	w.b.WriteString(text)
}

func (w *PageWriter) String() string { return w.b.String() }

// Pages is the number of pages added, empty ones included
func (w *PageWriter) Pages() int { return w.pages }

// tidyLines trims trailing blanks and tabs per line and drops empty lines
func tidyLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

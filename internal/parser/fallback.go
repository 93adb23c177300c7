package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMinChars is the digital text length below which a PDF is treated as scanned
const DefaultMinChars = 50

// FallbackExtractor tries the text layer first and hands PDFs with too little
// text to an OCR extractor.
type FallbackExtractor struct {
	digital  Extractor
	ocr      Extractor
	minChars int
}

// NewFallbackExtractor returns digital unchanged when ocr is nil
func NewFallbackExtractor(digital, ocr Extractor, minChars int) Extractor {
	if ocr == nil {
		return digital
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &FallbackExtractor{digital: digital, ocr: ocr, minChars: minChars}
}

func (f *FallbackExtractor) Extract(ctx context.Context, filename string, data []byte) (Result, error) {
	res, err := f.digital.Extract(ctx, filename, data)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return res, err
	}
	if err == nil && BodyLength(res.Text) >= f.minChars {
		return res, nil
	}

	log.Info().
		Str("file", filename).
		AnErr("digital_err", err).
		Int("chars", BodyLength(res.Text)).
		Msg("Text layer insufficient, falling back to OCR")
	return f.ocr.Extract(ctx, filename, data)
}

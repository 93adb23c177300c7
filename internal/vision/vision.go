// Package vision runs Google Cloud Vision document text detection on PDFs
// without a usable text layer.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
)

const (
	// files:annotate accepts at most five pages per request
	pagesPerRequest = 5
	featureType     = "DOCUMENT_TEXT_DETECTION"
	pdfMimeType     = "application/pdf"

	DefaultTimeout = 300 * time.Second
)

// AnnotateFunc sends one synchronous files:annotate request
type AnnotateFunc func(ctx context.Context, req *visionapi.BatchAnnotateFilesRequest) (*visionapi.BatchAnnotateFilesResponse, error)

// Extractor OCRs PDFs page batch by page batch
type Extractor struct {
	annotate AnnotateFunc
	maxPages int
	timeout  time.Duration
	limiter  *rate.Limiter
}

type Option func(*Extractor)

// WithMaxPages stops after n pages; 0 means no limit
func WithMaxPages(n int) Option {
	return func(e *Extractor) {
		if n >= 0 {
			e.maxPages = n
		}
	}
}

// WithTimeout bounds the whole extraction of one document
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRateLimit allows at most rps annotate requests per second across all
// documents; 0 disables the limit
func WithRateLimit(rps float64) Option {
	return func(e *Extractor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New connects to the Vision API. An empty credentialsFile uses application
// default credentials.
func New(ctx context.Context, credentialsFile string, opts ...Option) (*Extractor, error) {
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := visionapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision service: %w", err)
	}
	annotate := func(ctx context.Context, req *visionapi.BatchAnnotateFilesRequest) (*visionapi.BatchAnnotateFilesResponse, error) {
		return svc.Files.Annotate(req).Context(ctx).Do()
	}
	log.Info().Msg("Google Vision client initialized")
	return NewWithAnnotator(annotate, opts...), nil
}

func NewWithAnnotator(annotate AnnotateFunc, opts ...Option) *Extractor {
	e := &Extractor{annotate: annotate, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the recognised text with one page marker per non-empty page.
// Blocks sharing a line are joined with tabs so scanned tables stay tabular.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (parser.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	content := base64.StdEncoding.EncodeToString(data)
	var w parser.PageWriter
	total := 0

	for first := 1; ; {
		last := first + pagesPerRequest - 1
		if total > 0 {
			last = min(last, total)
		}
		if e.maxPages > 0 {
			last = min(last, e.maxPages)
		}

		req := &visionapi.AnnotateFileRequest{
			InputConfig: &visionapi.InputConfig{Content: content, MimeType: pdfMimeType},
			Features:    []*visionapi.Feature{{Type: featureType}},
		}
		// the first request leaves pages unset so it also works for short files
		if total > 0 || e.maxPages > 0 {
			for n := first; n <= last; n++ {
				req.Pages = append(req.Pages, int64(n))
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return parser.Result{}, &models.ExtractionError{Path: filename, Err: err}
			}
		}
		resp, err := e.annotate(ctx, &visionapi.BatchAnnotateFilesRequest{Requests: []*visionapi.AnnotateFileRequest{req}})
		if err != nil {
			return parser.Result{}, &models.ExtractionError{Path: filename, Err: fmt.Errorf("annotate pages %d-%d: %w", first, last, err)}
		}
		if len(resp.Responses) == 0 {
			return parser.Result{}, &models.ExtractionError{Path: filename, Err: errors.New("empty annotate response")}
		}
		file := resp.Responses[0]
		if file.Error != nil && file.Error.Code != 0 {
			return parser.Result{}, &models.ExtractionError{Path: filename, Err: fmt.Errorf("vision: %s", file.Error.Message)}
		}
		total = int(file.TotalPages)

		for i, page := range file.Responses {
			number := first + i
			if page.Context != nil && page.Context.PageNumber > 0 {
				number = int(page.Context.PageNumber)
			}
			if page.Error != nil && page.Error.Code != 0 {
				log.Warn().Str("file", filename).Int("page", number).Str("error", page.Error.Message).Msg("Page not recognised")
				w.Add(number, "")
				continue
			}
			w.Add(number, pageText(page.FullTextAnnotation))
		}

		last = first + max(len(file.Responses), 1) - 1
		if last >= total || (e.maxPages > 0 && last >= e.maxPages) {
			break
		}
		first = last + 1
	}

	log.Info().Str("file", filename).Int("pages", w.Pages()).Int("chars", len(w.String())).Msg("OCR complete")
	return parser.Result{Text: w.String(), Pages: w.Pages(), Method: parser.MethodVision}, nil
}
